package llm

import (
	"errors"
	"fmt"

	"ragchat/pkg/domain"
)

var (
	ErrVisionUnsupported = errors.New("provider does not accept image input")
	ErrBaseURLRequired   = errors.New("base url required for custom provider")
	ErrEmptyResponse     = errors.New("empty response from provider")
)

// UnsupportedProviderError is returned for model types outside the closed set.
type UnsupportedProviderError struct {
	ModelType domain.ModelType
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported llm provider %q", e.ModelType)
}

// ProviderInvocationError is a failed provider call.
type ProviderInvocationError struct {
	Provider   domain.ModelType
	Model      string
	StatusCode int
	Code       string
	Metadata   map[string]any
	Err        error
}

func (e *ProviderInvocationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderInvocationError) Unwrap() error { return e.Err }

// OpenRouterRoutingError is returned once the primary model and every
// fallback failed. It keeps the last upstream status and routing metadata so
// callers can tell rate limits from moderation from outages.
type OpenRouterRoutingError struct {
	StatusCode int
	Code       string
	Message    string
	Metadata   map[string]any
	Attempts   []string
}

func (e *OpenRouterRoutingError) Error() string {
	return fmt.Sprintf("openrouter: all routes failed (tried %v): status %d: %s", e.Attempts, e.StatusCode, e.Message)
}

// RateLimited reports whether the last failure was a 429.
func (e *OpenRouterRoutingError) RateLimited() bool { return e.StatusCode == 429 }
