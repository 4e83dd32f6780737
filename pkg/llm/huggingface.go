package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co/models/"

type tgiParameters struct {
	MaxNewTokens      *int     `json:"max_new_tokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	ReturnFullText    bool     `json:"return_full_text"`
}

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
	Stream     bool          `json:"stream,omitempty"`
}

type tgiGenerated struct {
	GeneratedText string `json:"generated_text"`
}

type tgiStreamEvent struct {
	Token struct {
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	Error string `json:"error"`
}

// huggingFaceModel calls a text-generation-inference endpoint. The base URL,
// when set, is the full endpoint URL.
type huggingFaceModel struct {
	base
}

func newHuggingFaceModel(b base) *huggingFaceModel {
	if b.baseURL == "" {
		b.baseURL = defaultHuggingFaceBaseURL + b.model
	}
	return &huggingFaceModel{base: b}
}

func (m *huggingFaceModel) Capabilities() Capabilities {
	return Capabilities{}
}

// renderPrompt flattens the conversation into a role-tagged transcript.
func renderPrompt(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func (m *huggingFaceModel) request(messages []Message, stream bool) tgiRequest {
	return tgiRequest{
		Inputs: renderPrompt(messages),
		Parameters: tgiParameters{
			MaxNewTokens:      m.params.MaxTokens,
			Temperature:       m.params.Temperature,
			TopK:              m.params.TopK,
			TopP:              m.params.TopP,
			RepetitionPenalty: m.params.RepetitionPenalty,
			Seed:              m.params.Seed,
		},
		Stream: stream,
	}
}

func (m *huggingFaceModel) Invoke(ctx context.Context, messages []Message) (string, error) {
	var raw json.RawMessage
	if err := m.postJSON(ctx, m.baseURL, bearer(m.apiKey), m.request(messages, false), &raw); err != nil {
		return "", err
	}
	var text string
	var list []tgiGenerated
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			text = list[0].GeneratedText
		}
	} else {
		var single tgiGenerated
		if err := json.Unmarshal(raw, &single); err != nil {
			return "", m.fail(0, fmt.Errorf("decode response: %w", err))
		}
		text = single.GeneratedText
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", m.fail(0, ErrEmptyResponse)
	}
	return text, nil
}

func (m *huggingFaceModel) Stream(ctx context.Context, messages []Message) (*Stream, error) {
	resp, err := m.post(ctx, m.baseURL, bearer(m.apiKey), m.request(messages, true))
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
		var ev tgiStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return "", m.fail(0, fmt.Errorf("decode stream event: %w", err))
		}
		if ev.Error != "" {
			return "", m.fail(0, errors.New(ev.Error))
		}
		if ev.Token.Special {
			return "", nil
		}
		return ev.Token.Text, nil
	}, resp.Body.Close), nil
}
