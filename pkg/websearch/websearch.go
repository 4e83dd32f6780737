// Package websearch fetches web snippets and condenses them into context
// for a chat answer.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ragchat/pkg/llm"
)

const (
	defaultEndpoint = "https://www.googleapis.com/customsearch/v1"
	noResults       = "No good Google Search Result was found"
	chainTemplate   = "Answer the following question based only on the provided context:\n\nQuestion: %s\n\nContext: %s"
)

var ErrNotConfigured = errors.New("web search is not configured")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Config holds Programmable Search credentials.
type Config struct {
	APIKey   string
	EngineID string
	Endpoint string
	Results  int
	Timeout  time.Duration
}

// Client queries the Google Programmable Search JSON API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Results <= 0 || cfg.Results > 10 {
		cfg.Results = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

// Enabled reports whether credentials are present.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != "" && c.cfg.EngineID != ""
}

func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	q := url.Values{}
	q.Set("key", c.cfg.APIKey)
	q.Set("cx", c.cfg.EngineID)
	q.Set("q", query)
	q.Set("num", fmt.Sprint(c.cfg.Results))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Items []Result `json:"items"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode < 400 {
		return nil, fmt.Errorf("web search decode: %w", err)
	}
	if resp.StatusCode >= 400 {
		if body.Error != nil && body.Error.Message != "" {
			return nil, fmt.Errorf("web search api error: %s", body.Error.Message)
		}
		return nil, fmt.Errorf("web search api error: %s", resp.Status)
	}
	return body.Items, nil
}

// Snippets joins result snippets into one context string.
func Snippets(results []Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if s := strings.TrimSpace(r.Snippet); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return noResults
	}
	return strings.Join(parts, " ")
}

// Summarize searches for question and asks model to answer it from the
// snippets alone. The result is added to the conversation as an assistant
// turn by the caller.
func (c *Client) Summarize(ctx context.Context, model llm.Model, question string) (string, error) {
	results, err := c.Search(ctx, question)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(chainTemplate, question, Snippets(results))
	return model.Invoke(ctx, []llm.Message{llm.User(prompt)})
}
