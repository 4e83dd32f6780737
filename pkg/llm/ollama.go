package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	NumPredict    *int     `json:"num_predict,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

// llamaModel talks to a local Ollama server through /api/chat.
type llamaModel struct {
	base
}

func newLlamaModel(b base) *llamaModel {
	if b.baseURL == "" {
		b.baseURL = defaultOllamaBaseURL
	}
	b.baseURL = strings.TrimRight(b.baseURL, "/")
	return &llamaModel{base: b}
}

func (m *llamaModel) Capabilities() Capabilities {
	return Capabilities{Vision: true}
}

func (m *llamaModel) request(messages []Message, stream bool) ollamaChatRequest {
	req := ollamaChatRequest{Model: m.model, Stream: stream, Messages: make([]ollamaMessage, 0, len(messages))}
	for _, msg := range messages {
		if v, ok := msg.vision.(ollamaMessage); ok {
			req.Messages = append(req.Messages, v)
			continue
		}
		req.Messages = append(req.Messages, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}
	p := m.params
	if p.MaxTokens != nil || p.Temperature != nil || p.TopK != nil || p.TopP != nil || p.RepetitionPenalty != nil || p.Seed != nil {
		req.Options = &ollamaOptions{
			NumPredict:    p.MaxTokens,
			Temperature:   p.Temperature,
			TopK:          p.TopK,
			TopP:          p.TopP,
			RepeatPenalty: p.RepetitionPenalty,
			Seed:          p.Seed,
		}
	}
	return req
}

func (m *llamaModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	var resp ollamaChatResponse
	if err := m.postJSON(ctx, m.baseURL+"/api/chat", nil, m.request(messages, false), &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", m.fail(0, errors.New(resp.Error))
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", m.fail(0, ErrEmptyResponse)
	}
	return resp.Message.Content, nil
}

// Stream reads newline-delimited JSON objects until one reports done.
func (m *llamaModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	resp, err := m.post(ctx, m.baseURL+"/api/chat", nil, m.request(messages, true))
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	done := false
	return NewStream(func() (string, error) {
		for !done && scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				return "", m.fail(0, fmt.Errorf("decode stream line: %w", err))
			}
			if chunk.Error != "" {
				return "", m.fail(0, errors.New(chunk.Error))
			}
			done = chunk.Done
			return chunk.Message.Content, nil
		}
		if err := scanner.Err(); err != nil {
			return "", m.fail(0, err)
		}
		return "", io.EOF
	}, resp.Body.Close), nil
}
