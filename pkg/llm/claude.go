package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	defaultClaudeBaseURL   = "https://api.anthropic.com"
	anthropicVersion       = "2023-06-01"
	defaultClaudeMaxTokens = 4096
)

type claudeBlock struct {
	Type   string             `json:"type"`
	Text   string             `json:"text,omitempty"`
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeResponse struct {
	Content []claudeBlock `json:"content"`
}

type claudeEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *apiError `json:"error"`
}

type claudeModel struct {
	base
}

func newClaudeModel(b base) *claudeModel {
	if b.baseURL == "" {
		b.baseURL = defaultClaudeBaseURL
	}
	return &claudeModel{base: b}
}

func (m *claudeModel) Capabilities() Capabilities {
	return Capabilities{Vision: true}
}

func (m *claudeModel) headers() map[string]string {
	return map[string]string{
		"x-api-key":         m.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (m *claudeModel) request(messages []Message, stream bool) claudeRequest {
	system, rest := splitSystem(messages)
	req := claudeRequest{
		Model:       m.model,
		MaxTokens:   defaultClaudeMaxTokens,
		System:      system,
		Messages:    make([]claudeMessage, 0, len(rest)),
		Temperature: m.params.Temperature,
		TopP:        m.params.TopP,
		TopK:        m.params.TopK,
		Stream:      stream,
	}
	if m.params.MaxTokens != nil && *m.params.MaxTokens > 0 {
		req.MaxTokens = *m.params.MaxTokens
	}
	for _, msg := range rest {
		var content any = msg.Content
		if msg.vision != nil {
			content = msg.vision
		}
		req.Messages = append(req.Messages, claudeMessage{Role: string(msg.Role), Content: content})
	}
	return req
}

func (m *claudeModel) url() string {
	return strings.TrimRight(m.baseURL, "/") + "/v1/messages"
}

func (m *claudeModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	var resp claudeResponse
	if err := m.postJSON(ctx, m.url(), m.headers(), m.request(messages, false), &resp); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", m.fail(0, ErrEmptyResponse)
	}
	return b.String(), nil
}

func (m *claudeModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	resp, err := m.post(ctx, m.url(), m.headers(), m.request(messages, true))
	if err != nil {
		return nil, err
	}
	sse := newSSEReader(resp.Body)
	return NewStream(func() (string, error) {
		_, data, err := sse.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", m.fail(0, err)
		}
		var ev claudeEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", m.fail(0, fmt.Errorf("decode stream event: %w", err))
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" {
				return ev.Delta.Text, nil
			}
		case "message_stop":
			return "", io.EOF
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return "", m.fail(0, errors.New(msg))
		}
		return "", nil
	}, resp.Body.Close), nil
}
