package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the YAML file read by Load when no path is given.
var ConfigPath = envOr("CONFIG_PATH", "config.yaml")

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	InternalToken string `yaml:"internalToken"`

	StorageBackend   string `yaml:"storageBackend"`
	LocalStoragePath string `yaml:"localStoragePath"`
	MinioEndpoint    string `yaml:"minioEndpoint"`
	MinioAccessKey   string `yaml:"minioAccessKey"`
	MinioSecretKey   string `yaml:"minioSecretKey"`
	MinioBucket      string `yaml:"minioBucket"`
	MinioUseSSL      bool   `yaml:"minioUseSSL"`

	RedisAddr              string `yaml:"redisAddr"`
	RedisPassword          string `yaml:"redisPassword"`
	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`
	ClaimStaleSeconds      int    `yaml:"claimStaleSeconds"`

	ChunkSize    int  `yaml:"chunkSize"`
	ChunkOverlap int  `yaml:"chunkOverlap"`
	PDFToText    bool `yaml:"pdfToText"`

	VectorBackend    string `yaml:"vectorBackend"`
	VectorCollection string `yaml:"vectorCollection"`
	QdrantAddr       string `yaml:"qdrantAddr"`
	QdrantAPIKey     string `yaml:"qdrantApiKey"`
	QdrantUseTLS     bool   `yaml:"qdrantUseTLS"`

	EmbeddingProvider  string `yaml:"embeddingProvider"`
	EmbeddingModel     string `yaml:"embeddingModel"`
	EmbeddingBaseURL   string `yaml:"embeddingBaseURL"`
	EmbeddingAPIKey    string `yaml:"embeddingApiKey"`
	EmbeddingDim       int    `yaml:"embeddingDim"`
	EmbeddingBatchSize int    `yaml:"embeddingBatchSize"`

	EnrichEnabled     bool   `yaml:"enrichEnabled"`
	EnrichConcurrency int    `yaml:"enrichConcurrency"`
	DescribeImages    bool   `yaml:"describeImages"`
	LLMProvider       string `yaml:"llmProvider"`
	LLMModel          string `yaml:"llmModel"`
	LLMBaseURL        string `yaml:"llmBaseURL"`
	LLMAPIKey         string `yaml:"llmApiKey"`
	VisionModel       string `yaml:"visionModel"`
	LLMCacheTTLHours  int    `yaml:"llmCacheTTLHours"`
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
	if v := os.Getenv("RAGCHAT_INTERNAL_TOKEN"); v != "" {
		cfg.InternalToken = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}
	if v := os.Getenv("LOCAL_STORAGE_PATH"); v != "" {
		cfg.LocalStoragePath = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("INGEST_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("INGEST_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("INGEST_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("INGEST_QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueMaxRetries = n
		}
	}
	if v := os.Getenv("INGEST_QUEUE_RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueRetryDelaySeconds = n
		}
	}
	if v := os.Getenv("INGEST_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("INGEST_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChunkOverlap = n
		}
	}
	if v := os.Getenv("INGEST_PDF_TO_TEXT"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.PDFToText = enabled
		}
	}
	if v := os.Getenv("INGEST_ENRICH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.EnrichEnabled = enabled
		}
	}
	if v := os.Getenv("INGEST_DESCRIBE_IMAGES"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.DescribeImages = enabled
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
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.EmbeddingAPIKey == "" && providerIs(cfg.EmbeddingProvider, "openai") {
			cfg.EmbeddingAPIKey = v
		}
		if cfg.LLMAPIKey == "" && providerIs(cfg.LLMProvider, "openai") {
			cfg.LLMAPIKey = v
		}
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.InternalToken == "" {
		return errors.New("config: internalToken is required (set in config.yaml or RAGCHAT_INTERNAL_TOKEN)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.ChunkSize <= 0 {
		return errors.New("config: chunkSize must be > 0 (set in config.yaml or INGEST_CHUNK_SIZE)")
	}
	if cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkOverlap must be >= 0 (set in config.yaml or INGEST_CHUNK_OVERLAP)")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml or EMBEDDING_MODEL)")
	}
	if (cfg.EnrichEnabled || cfg.DescribeImages) && cfg.LLMProvider == "" {
		return errors.New("config: llmProvider is required when enrichEnabled or describeImages is set")
	}
	if cfg.DescribeImages && cfg.VisionModel == "" && cfg.LLMModel == "" {
		return errors.New("config: visionModel or llmModel is required when describeImages=true")
	}
	switch strings.ToLower(cfg.StorageBackend) {
	case "", "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio storage requires minioEndpoint, minioAccessKey, minioSecretKey and minioBucket")
		}
	case "local":
		if cfg.LocalStoragePath == "" {
			return errors.New("config: localStoragePath is required when storageBackend=local")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}
	switch strings.ToLower(cfg.VectorBackend) {
	case "", "qdrant":
		if cfg.QdrantAddr == "" {
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
