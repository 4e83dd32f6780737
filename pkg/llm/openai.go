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
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
)

type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiChatRequest struct {
	Model             string              `json:"model"`
	Messages          []oaiMessage        `json:"messages"`
	Stream            bool                `json:"stream,omitempty"`
	MaxTokens         *int                `json:"max_tokens,omitempty"`
	Temperature       *float64            `json:"temperature,omitempty"`
	TopP              *float64            `json:"top_p,omitempty"`
	TopK              *int                `json:"top_k,omitempty"`
	RepetitionPenalty *float64            `json:"repetition_penalty,omitempty"`
	Seed              *int64              `json:"seed,omitempty"`
	RandomSeed        *int64              `json:"random_seed,omitempty"`
	Models            []string            `json:"models,omitempty"`
	Route             string              `json:"route,omitempty"`
	ProviderPrefs     *openRouterProvider `json:"provider,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func toOAIMessages(messages []Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		var content any = m.Content
		if m.vision != nil {
			content = m.vision
		}
		out = append(out, oaiMessage{Role: string(m.Role), Content: content})
	}
	return out
}

// chatCompletions is the OpenAI wire protocol shared by the OpenAI, Mistral,
// custom and OpenRouter variants.
type chatCompletions struct {
	base
	headers func() map[string]string
}

func (c *chatCompletions) url() string {
	return c.baseURL + "/chat/completions"
}

func (c *chatCompletions) invoke(ctx context.Context, req oaiChatRequest) (string, error) {
	var resp oaiChatResponse
	if err := c.postJSON(ctx, c.url(), c.headers(), req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", c.apiFailure(*resp.Error)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", c.fail(0, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *chatCompletions) stream(ctx context.Context, req oaiChatRequest) (*Stream, error) {
	req.Stream = true
	resp, err := c.post(ctx, c.url(), c.headers(), req)
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
			return "", c.fail(0, err)
		}
		if data == "[DONE]" {
			return "", io.EOF
		}
		var chunk oaiChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", c.fail(0, fmt.Errorf("decode stream chunk: %w", err))
		}
		if chunk.Error != nil {
			return "", c.apiFailure(*chunk.Error)
		}
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		return chunk.Choices[0].Delta.Content, nil
	}, resp.Body.Close), nil
}

func (c *chatCompletions) apiFailure(e apiError) error {
	status := 0
	if n, ok := e.Code.(float64); ok {
		status = int(n)
	}
	return &ProviderInvocationError{
		Provider: c.provider, Model: c.model, StatusCode: status,
		Code: e.code(), Metadata: e.Metadata, Err: errors.New(e.Message),
	}
}

type openAIModel struct {
	chatCompletions
}

func newOpenAIModel(b base) *openAIModel {
	if b.baseURL == "" {
		b.baseURL = defaultOpenAIBaseURL
	}
	m := &openAIModel{chatCompletions{base: b}}
	m.headers = func() map[string]string { return bearer(m.apiKey) }
	return m
}

func (m *openAIModel) Capabilities() Capabilities {
	return Capabilities{Vision: true}
}

func (m *openAIModel) request(messages []Message) oaiChatRequest {
	return oaiChatRequest{
		Model:       m.model,
		Messages:    toOAIMessages(messages),
		MaxTokens:   m.params.MaxTokens,
		Temperature: m.params.Temperature,
		TopP:        m.params.TopP,
		Seed:        m.params.Seed,
	}
}

func (m *openAIModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	return m.invoke(ctx, m.request(messages))
}

func (m *openAIModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	return m.stream(ctx, m.request(messages))
}

type mistralModel struct {
	chatCompletions
}

func newMistralModel(b base) *mistralModel {
	if b.baseURL == "" {
		b.baseURL = defaultMistralBaseURL
	}
	m := &mistralModel{chatCompletions{base: b}}
	m.headers = func() map[string]string { return bearer(m.apiKey) }
	return m
}

func (m *mistralModel) Capabilities() Capabilities {
	return Capabilities{Vision: strings.Contains(m.model, "pixtral")}
}

func (m *mistralModel) request(messages []Message) oaiChatRequest {
	return oaiChatRequest{
		Model:       m.model,
		Messages:    toOAIMessages(messages),
		MaxTokens:   m.params.MaxTokens,
		Temperature: m.params.Temperature,
		TopP:        m.params.TopP,
		RandomSeed:  m.params.Seed,
	}
}

func (m *mistralModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	return m.invoke(ctx, m.request(messages))
}

func (m *mistralModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	return m.stream(ctx, m.request(messages))
}
