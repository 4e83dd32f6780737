package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

var (
	defaultOpenRouterFallbacks = []string{"anthropic/claude-2.1", "mistralai/mixtral-8x7b-instruct"}
	defaultOpenRouterOrder     = []string{"OpenAI", "Anthropic", "Together"}
)

type openRouterProvider struct {
	Order          []string `json:"order,omitempty"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
	DataCollection string   `json:"data_collection,omitempty"`
}

// OpenRouterConfig holds the routing settings shared by every OpenRouter model.
type OpenRouterConfig struct {
	APIKey        string
	BaseURL       string
	SiteURL       string
	SiteName      string
	Fallbacks     []string
	ProviderOrder []string
}

type openRouterModel struct {
	chatCompletions
	fallbacks []string
	order     []string
}

func newOpenRouterModel(b base, cfg OpenRouterConfig) *openRouterModel {
	if b.baseURL == "" {
		b.baseURL = cfg.BaseURL
	}
	if b.baseURL == "" {
		b.baseURL = defaultOpenRouterBaseURL
	}
	b.baseURL = strings.TrimRight(b.baseURL, "/")
	if b.apiKey == "" {
		b.apiKey = cfg.APIKey
	}
	m := &openRouterModel{chatCompletions: chatCompletions{base: b}, fallbacks: cfg.Fallbacks, order: cfg.ProviderOrder}
	if m.fallbacks == nil {
		m.fallbacks = defaultOpenRouterFallbacks
	}
	if len(m.order) == 0 {
		m.order = defaultOpenRouterOrder
	}
	m.headers = func() map[string]string {
		h := bearer(m.apiKey)
		if cfg.SiteURL != "" {
			h["HTTP-Referer"] = cfg.SiteURL
		}
		if cfg.SiteName != "" {
			h["X-Title"] = cfg.SiteName
		}
		return h
	}
	return m
}

func (m *openRouterModel) Capabilities() Capabilities {
	return Capabilities{Vision: true}
}

// routes lists the primary model followed by the fallbacks, without repeats.
func (m *openRouterModel) routes() []string {
	out := []string{m.model}
	seen := map[string]bool{m.model: true}
	for _, f := range m.fallbacks {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func (m *openRouterModel) request(messages []Message, models []string) oaiChatRequest {
	temp := m.params.Temperature
	if temp == nil {
		t := 0.7
		temp = &t
	}
	return oaiChatRequest{
		Model:             models[0],
		Models:            models,
		Route:             "fallback",
		ProviderPrefs:     &openRouterProvider{Order: m.order, AllowFallbacks: true, DataCollection: "deny"},
		Messages:          toOAIMessages(messages),
		MaxTokens:         m.params.MaxTokens,
		Temperature:       temp,
		TopP:              m.params.TopP,
		TopK:              m.params.TopK,
		RepetitionPenalty: m.params.RepetitionPenalty,
		Seed:              m.params.Seed,
	}
}

// withFallback runs call once per route, promoting each fallback to primary
// in turn. Only the last failure is reported. A done context ends the loop
// with the context error. An auth failure (401, 403) ends it after the
// first route: every route shares one key.
func withFallback[T any](ctx context.Context, m *openRouterModel, call func(oaiChatRequest) (T, error), messages []Message) (T, error) {
	var zero T
	routes := m.routes()
	routingErr := &OpenRouterRoutingError{}
	for i := range routes {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out, err := call(m.request(messages, routes[i:]))
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		routingErr.Attempts = append(routingErr.Attempts, routes[i])
		routingErr.Message = err.Error()
		var perr *ProviderInvocationError
		if errors.As(err, &perr) {
			routingErr.StatusCode = perr.StatusCode
			routingErr.Code = perr.Code
			routingErr.Metadata = perr.Metadata
			if perr.Err != nil {
				routingErr.Message = perr.Err.Error()
			}
			if perr.StatusCode == http.StatusUnauthorized || perr.StatusCode == http.StatusForbidden {
				break
			}
		}
	}
	return zero, routingErr
}

func (m *openRouterModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	return withFallback(ctx, m, func(req oaiChatRequest) (string, error) {
		return m.invoke(ctx, req)
	}, messages)
}

// Stream applies the fallback loop to opening the stream. Once increments
// are flowing a failure surfaces from Recv.
func (m *openRouterModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	return withFallback(ctx, m, func(req oaiChatRequest) (*Stream, error) {
		return m.stream(ctx, req)
	}, messages)
}
