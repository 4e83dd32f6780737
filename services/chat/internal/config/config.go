package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"ragchat/pkg/domain"
)

// ConfigPath is the YAML file read by Load when no path is given.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

// ProviderConfig holds the system credentials of one LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port         string   `yaml:"port"`
	DatabaseURL  string   `yaml:"databaseURL"`
	LogLevel     string   `yaml:"logLevel"`
	CORSOrigins  []string `yaml:"corsOrigins"`
	MaxBodyBytes int64    `yaml:"maxBodyBytes"`

	AuthSecret   string `yaml:"authSecret"`
	AuthIssuer   string `yaml:"authIssuer"`
	AuthAudience string `yaml:"authAudience"`

	// Redis is optional: it enables rate limiting, the cross-instance
	// realtime bus and the LLM response cache.
	RedisAddr          string `yaml:"redisAddr"`
	RedisPassword      string `yaml:"redisPassword"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`

	HistoryLimit int   `yaml:"historyLimit"`
	TopK         int   `yaml:"topK"`
	UseDocuments *bool `yaml:"useDocuments"`

	VectorBackend    string `yaml:"vectorBackend"`
	VectorCollection string `yaml:"vectorCollection"`
	QdrantAddr       string `yaml:"qdrantAddr"`
	QdrantAPIKey     string `yaml:"qdrantApiKey"`
	QdrantUseTLS     bool   `yaml:"qdrantUseTLS"`

	EmbeddingProvider string `yaml:"embeddingProvider"`
	EmbeddingModel    string `yaml:"embeddingModel"`
	EmbeddingBaseURL  string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey   string `yaml:"embeddingApiKey"`
	EmbeddingDim      int    `yaml:"embeddingDim"`

	DefaultProvider    string                    `yaml:"defaultProvider"`
	DefaultModel       string                    `yaml:"defaultModel"`
	Providers          map[string]ProviderConfig `yaml:"providers"`
	LLMTimeoutSeconds  int                       `yaml:"llmTimeoutSeconds"`
	LLMCacheChat       bool                      `yaml:"llmCacheChat"`
	LLMCacheTTLHours   int                       `yaml:"llmCacheTTLHours"`
	OpenRouterSiteURL  string                    `yaml:"openRouterSiteURL"`
	OpenRouterSiteName string                    `yaml:"openRouterSiteName"`
	OpenRouterFallback []string                  `yaml:"openRouterFallbacks"`
	OpenRouterOrder    []string                  `yaml:"openRouterProviderOrder"`

	WebSearchAPIKey   string `yaml:"webSearchApiKey"`
	WebSearchEngineID string `yaml:"webSearchEngineId"`
}

// providerKeyEnv maps provider credentials to their environment variables.
var providerKeyEnv = map[domain.ModelType]string{
	domain.ModelOpenAI:      "OPENAI_API_KEY",
	domain.ModelGemini:      "GEMINI_API_KEY",
	domain.ModelMistral:     "MISTRAL_API_KEY",
	domain.ModelClaude:      "ANTHROPIC_API_KEY",
	domain.ModelOpenRouter:  "OPENROUTER_API_KEY",
	domain.ModelHuggingFace: "HUGGINGFACE_API_KEY",
}

var providerURLEnv = map[domain.ModelType]string{
	domain.ModelLlama:       "OLLAMA_BASE_URL",
	domain.ModelHuggingFace: "HUGGINGFACE_BASE_URL",
	domain.ModelOpenRouter:  "OPENROUTER_BASE_URL",
	domain.ModelCustom:      "CUSTOM_LLM_BASE_URL",
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		cfg.AuthSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CHAT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CHAT_USE_DOCUMENTS"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.UseDocuments = &enabled
		}
	}
	if v := os.Getenv("VECTOR_BACKEND"); v != "" {
		cfg.VectorBackend = v
	}
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		cfg.QdrantAddr = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.QdrantAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.DefaultProvider = v
	}
	if v := os.Getenv("LLM_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for provider, env := range providerKeyEnv {
		if v := os.Getenv(env); v != "" {
			p := cfg.Providers[string(provider)]
			p.APIKey = v
			cfg.Providers[string(provider)] = p
		}
	}
	for provider, env := range providerURLEnv {
		if v := os.Getenv(env); v != "" {
			p := cfg.Providers[string(provider)]
			p.BaseURL = v
			cfg.Providers[string(provider)] = p
		}
	}
	if cfg.EmbeddingAPIKey == "" && providerIs(cfg.EmbeddingProvider, "openai") {
		cfg.EmbeddingAPIKey = cfg.Providers[string(domain.ModelOpenAI)].APIKey
	}
	if v := os.Getenv("SITE_URL"); v != "" {
		cfg.OpenRouterSiteURL = v
	}
	if v := os.Getenv("SITE_NAME"); v != "" {
		cfg.OpenRouterSiteName = v
	}
	if v := os.Getenv("OPENROUTER_FALLBACK_MODELS"); v != "" {
		cfg.OpenRouterFallback = splitCSV(v)
	}
	if v := os.Getenv("GOOGLE_SEARCH_API_KEY"); v != "" {
		cfg.WebSearchAPIKey = v
	}
	if v := os.Getenv("GOOGLE_SEARCH_ENGINE_ID"); v != "" {
		cfg.WebSearchEngineID = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RetrievalDefault reports whether messages search the user's documents
// when the request does not say. Defaults to true.
func (c FileConfig) RetrievalDefault() bool {
	return c.UseDocuments == nil || *c.UseDocuments
}

// ProviderDefaults returns the provider credentials keyed by model type.
func (c FileConfig) ProviderDefaults() map[domain.ModelType]ProviderConfig {
	out := make(map[domain.ModelType]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		out[domain.ModelType(strings.ToLower(strings.TrimSpace(name)))] = p
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.AuthSecret == "" {
		return errors.New("config: authSecret is required (set in config.yaml or AUTH_SECRET)")
	}
	if cfg.DefaultProvider == "" || cfg.DefaultModel == "" {
		return errors.New("config: defaultProvider and defaultModel are required (set in config.yaml or LLM_DEFAULT_PROVIDER/LLM_DEFAULT_MODEL)")
	}
	if !domain.ModelType(strings.ToLower(cfg.DefaultProvider)).Valid() {
		return fmt.Errorf("config: unknown defaultProvider %q", cfg.DefaultProvider)
	}
	for name := range cfg.Providers {
		if !domain.ModelType(strings.ToLower(strings.TrimSpace(name))).Valid() {
			return fmt.Errorf("config: unknown provider %q in providers", name)
		}
	}
	if cfg.RateLimitPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when rateLimitPerMinute is set")
	}
	if cfg.LLMCacheChat && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when llmCacheChat=true")
	}
	if (cfg.WebSearchAPIKey == "") != (cfg.WebSearchEngineID == "") {
		return errors.New("config: webSearchApiKey and webSearchEngineId must be set together")
	}
	if cfg.RetrievalDefault() && cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required unless useDocuments=false")
	}
	switch strings.ToLower(cfg.VectorBackend) {
	case "", "qdrant":
		if cfg.RetrievalDefault() && cfg.QdrantAddr == "" {
			return errors.New("config: qdrantAddr is required (set in config.yaml or QDRANT_ADDR)")
		}
	case "pgvector":
	default:
		return fmt.Errorf("config: unknown vectorBackend %q", cfg.VectorBackend)
	}
	return nil
}

func providerIs(value, want string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	return value == want || (value == "" && want == "openai")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
