package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (r geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type geminiModel struct {
	base
}

func newGeminiModel(b base) *geminiModel {
	if b.baseURL == "" {
		b.baseURL = defaultGeminiBaseURL
	}
	return &geminiModel{base: b}
}

// Capabilities: Gemini text models can ground answers in web search; the
// legacy vision-only models cannot.
func (m *geminiModel) Capabilities() Capabilities {
	visionOnly := strings.Contains(m.model, "vision")
	return Capabilities{WebSearch: !visionOnly, Vision: true, VisionOnly: visionOnly}
}

func (m *geminiModel) endpoint(method string, query url.Values) string {
	model := strings.TrimPrefix(strings.TrimSpace(m.model), "models/")
	query.Set("key", m.apiKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", m.baseURL, model, method, query.Encode())
}

func (m *geminiModel) request(messages []Message) geminiRequest {
	system, rest := splitSystem(messages)
	req := geminiRequest{Contents: make([]geminiContent, 0, len(rest))}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, msg := range rest {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		parts := []geminiPart{{Text: msg.Content}}
		if p, ok := msg.vision.([]geminiPart); ok {
			parts = p
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: parts})
	}
	p := m.params
	if p.MaxTokens != nil || p.Temperature != nil || p.TopP != nil || p.TopK != nil || p.Seed != nil {
		req.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: p.MaxTokens,
			Temperature:     p.Temperature,
			TopP:            p.TopP,
			TopK:            p.TopK,
			Seed:            p.Seed,
		}
	}
	return req
}

func (m *geminiModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	var resp geminiResponse
	if err := m.postJSON(ctx, m.endpoint("generateContent", url.Values{}), nil, m.request(messages), &resp); err != nil {
		return "", err
	}
	text := resp.text()
	if strings.TrimSpace(text) == "" {
		return "", m.fail(0, ErrEmptyResponse)
	}
	return text, nil
}

func (m *geminiModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	resp, err := m.post(ctx, m.endpoint("streamGenerateContent", url.Values{"alt": {"sse"}}), nil, m.request(messages))
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
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", m.fail(0, fmt.Errorf("decode stream chunk: %w", err))
		}
		return chunk.text(), nil
	}, resp.Body.Close), nil
}
