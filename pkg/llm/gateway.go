package llm

import (
	"net/http"
	"strings"
	"time"

	"ragchat/pkg/domain"
)

// ProviderDefaults are the system credentials used when a user config
// leaves the key or base URL empty.
type ProviderDefaults struct {
	APIKey  string
	BaseURL string
}

// Config configures a Gateway. The default provider and model are used when
// a user has no saved configuration.
type Config struct {
	DefaultProvider domain.ModelType
	DefaultModel    string
	Providers       map[domain.ModelType]ProviderDefaults
	OpenRouter      OpenRouterConfig
	Timeout         time.Duration
	HTTPClient      *http.Client
	Cache           Cache
	// CacheChat wraps resolved chat models with Cache. Off unless asked for.
	CacheChat bool
}

// Gateway turns UserLLMConfig rows into callable models.
type Gateway struct {
	cfg    Config
	client *http.Client
}

func NewGateway(cfg Config) *Gateway {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = domain.ModelOpenAI
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o-mini"
	}
	return &Gateway{cfg: cfg, client: client}
}

// Default resolves the system default model.
func (g *Gateway) Default() (Model, error) {
	return g.Resolve(nil)
}

// Resolve binds cfg to a provider variant. A nil cfg selects the system
// default.
func (g *Gateway) Resolve(cfg *domain.UserLLMConfig) (Model, error) {
	if cfg == nil {
		cfg = &domain.UserLLMConfig{ModelType: g.cfg.DefaultProvider, ModelName: g.cfg.DefaultModel}
	}
	modelType := domain.ModelType(strings.ToLower(strings.TrimSpace(string(cfg.ModelType))))
	if !modelType.Valid() {
		return nil, &UnsupportedProviderError{ModelType: cfg.ModelType}
	}
	defaults := g.cfg.Providers[modelType]
	b := base{
		provider: modelType,
		model:    strings.TrimSpace(cfg.ModelName),
		apiKey:   firstNonEmpty(cfg.APIKey, defaults.APIKey),
		baseURL:  strings.TrimRight(firstNonEmpty(cfg.BaseURL, defaults.BaseURL), "/"),
		params:   paramsFrom(cfg),
		client:   g.client,
	}
	var m Model
	switch modelType {
	case domain.ModelOpenAI:
		m = newOpenAIModel(b)
	case domain.ModelCustom:
		if b.baseURL == "" {
			return nil, ErrBaseURLRequired
		}
		m = newOpenAIModel(b)
	case domain.ModelGemini:
		m = newGeminiModel(b)
	case domain.ModelMistral:
		m = newMistralModel(b)
	case domain.ModelClaude:
		m = newClaudeModel(b)
	case domain.ModelLlama:
		m = newLlamaModel(b)
	case domain.ModelHuggingFace:
		m = newHuggingFaceModel(b)
	case domain.ModelOpenRouter:
		m = newOpenRouterModel(b, g.cfg.OpenRouter)
	default:
		return nil, &UnsupportedProviderError{ModelType: cfg.ModelType}
	}
	if g.cfg.CacheChat && g.cfg.Cache != nil {
		m = WithCache(m, g.cfg.Cache)
	}
	return m, nil
}

func paramsFrom(cfg *domain.UserLLMConfig) Params {
	return Params{
		MaxTokens:         cfg.MaxTokens,
		TopK:              cfg.TopK,
		TopP:              cfg.TopP,
		Temperature:       cfg.Temperature,
		RepetitionPenalty: cfg.RepetitionPenalty,
		Seed:              cfg.Seed,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
