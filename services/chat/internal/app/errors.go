package app

import "errors"

var (
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrMessageRequired   = errors.New("message required")
	ErrInvalidImage      = errors.New("invalid image data")
	ErrInvalidParent     = errors.New("invalid parent session")
	ErrLLMConfigNotFound = errors.New("llm config not found")
	// ErrInvalidLLMConfig wraps field validation failures of a model configuration.
	ErrInvalidLLMConfig = errors.New("invalid llm config")
)
