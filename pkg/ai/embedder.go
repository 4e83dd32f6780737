// Package ai holds the embedding clients used for indexing and retrieval.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Task types let providers that distinguish them embed queries and
// documents differently.
const (
	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"
)

var ErrEmptyInput = errors.New("embedding text required")

// Embedder provides embeddings for text.
type Embedder interface {
	EmbedText(ctx context.Context, text, taskType string) ([]float32, error)
	Dimensions() int
}

// BatchEmbedder optionally supports embedding multiple texts at once.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

// Config selects the embedding backend. It is independent of the chat model
// settings.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
}

// NewEmbedder builds the embedder named by cfg.Provider.
func NewEmbedder(cfg Config) (Embedder, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("embedding model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		return NewOpenAIEmbedder(cfg)
	case "ollama":
		return NewOllamaEmbedder(NewOllamaClient(cfg.BaseURL, cfg.Timeout), cfg.Model, cfg.Dimensions), nil
	case "gemini":
		client, err := NewGeminiClient(cfg.APIKey, cfg.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return NewGeminiEmbedder(client, cfg.Model, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// OllamaEmbedder wraps Ollama embedding calls with a fixed model and dimension.
type OllamaEmbedder struct {
	client     *OllamaClient
	model      string
	dimensions int
}

func NewOllamaEmbedder(client *OllamaClient, model string, dimensions int) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model, dimensions: dimensions}
}

func (e *OllamaEmbedder) EmbedText(ctx context.Context, text, _ string) ([]float32, error) {
	return e.client.EmbedText(ctx, e.model, text, e.dimensions)
}

func (e *OllamaEmbedder) EmbedTexts(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	return e.client.EmbedTexts(ctx, e.model, texts, e.dimensions)
}

func (e *OllamaEmbedder) Dimensions() int { return e.dimensions }

// GeminiEmbedder binds a GeminiClient to one embedding model.
type GeminiEmbedder struct {
	client     *GeminiClient
	model      string
	dimensions int
}

func NewGeminiEmbedder(client *GeminiClient, model string, dimensions int) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions}
}

func (e *GeminiEmbedder) EmbedText(ctx context.Context, text, taskType string) ([]float32, error) {
	return e.client.EmbedText(ctx, e.model, text, taskType, e.dimensions)
}

func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	return e.client.EmbedTexts(ctx, e.model, texts, taskType, e.dimensions)
}

func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }
