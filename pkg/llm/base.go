package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ragchat/pkg/domain"
)

// base carries what every provider variant needs.
type base struct {
	provider domain.ModelType
	model    string
	apiKey   string
	baseURL  string
	params   Params
	client   *http.Client
}

func (b *base) Provider() domain.ModelType { return b.provider }
func (b *base) Name() string               { return b.model }

func (b *base) FormatVision(text string, img Image) (Message, error) {
	format, ok := visionFormatters[b.provider]
	if !ok {
		return Message{}, fmt.Errorf("%s: %w", b.provider, ErrVisionUnsupported)
	}
	if len(img.Data) == 0 {
		return Message{}, errors.New("image data required")
	}
	return Message{Role: RoleUser, Content: text, vision: format(text, img)}, nil
}

func (b *base) fail(status int, err error) error {
	return &ProviderInvocationError{Provider: b.provider, Model: b.model, StatusCode: status, Err: err}
}

// post sends a JSON body and returns the response for status < 400. Error
// bodies are decoded into a ProviderInvocationError.
func (b *base) post(ctx context.Context, url string, headers map[string]string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, b.fail(0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, b.fail(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, b.fail(0, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		perr := &ProviderInvocationError{Provider: b.provider, Model: b.model, StatusCode: resp.StatusCode}
		apiErr := parseAPIError(raw)
		perr.Code = apiErr.code()
		perr.Metadata = apiErr.Metadata
		if apiErr.Message != "" {
			perr.Err = errors.New(apiErr.Message)
		} else {
			perr.Err = errors.New(resp.Status)
		}
		return nil, perr
	}
	return resp, nil
}

func (b *base) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	resp, err := b.post(ctx, url, headers, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return b.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// apiError covers the error envelopes used by the supported providers.
type apiError struct {
	Message  string         `json:"message"`
	Type     string         `json:"type"`
	Code     any            `json:"code"`
	Metadata map[string]any `json:"metadata"`
}

func (e apiError) code() string {
	switch v := e.Code.(type) {
	case nil:
		return e.Type
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return fmt.Sprint(v)
	}
}

func parseAPIError(raw []byte) apiError {
	var nested struct {
		Error json.RawMessage `json:"error"`
		apiError
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return apiError{Message: strings.TrimSpace(string(raw))}
	}
	if len(nested.Error) > 0 {
		var inner apiError
		if err := json.Unmarshal(nested.Error, &inner); err == nil {
			return inner
		}
		var text string
		if err := json.Unmarshal(nested.Error, &text); err == nil {
			return apiError{Message: text}
		}
	}
	return nested.apiError
}

func bearer(apiKey string) map[string]string {
	if apiKey == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

// splitSystem separates system turns from the conversation for providers
// that take the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
