package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the subset of the documents service config ragctl needs.
// The same YAML file can be pointed at with CONFIG_PATH.
type fileConfig struct {
	DatabaseURL  string `yaml:"databaseURL"`
	LogLevel     string `yaml:"logLevel"`
	AuthSecret   string `yaml:"authSecret"`
	AuthIssuer   string `yaml:"authIssuer"`
	AuthAudience string `yaml:"authAudience"`

	StorageBackend   string `yaml:"storageBackend"`
	LocalStoragePath string `yaml:"localStoragePath"`
	MinioEndpoint    string `yaml:"minioEndpoint"`
	MinioAccessKey   string `yaml:"minioAccessKey"`
	MinioSecretKey   string `yaml:"minioSecretKey"`
	MinioBucket      string `yaml:"minioBucket"`
	MinioUseSSL      bool   `yaml:"minioUseSSL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	QueueName     string `yaml:"queueName"`
	QueueGroup    string `yaml:"queueGroup"`

	VectorBackend    string `yaml:"vectorBackend"`
	VectorCollection string `yaml:"vectorCollection"`
	QdrantAddr       string `yaml:"qdrantAddr"`
	QdrantAPIKey     string `yaml:"qdrantApiKey"`
	QdrantUseTLS     bool   `yaml:"qdrantUseTLS"`
}

func loadConfig(path string) (fileConfig, error) {
	cfg := fileConfig{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	overrides := map[string]*string{
		"DATABASE_URL":       &cfg.DatabaseURL,
		"AUTH_SECRET":        &cfg.AuthSecret,
		"STORAGE_BACKEND":    &cfg.StorageBackend,
		"LOCAL_STORAGE_PATH": &cfg.LocalStoragePath,
		"MINIO_ENDPOINT":     &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":   &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":   &cfg.MinioSecretKey,
		"MINIO_BUCKET":       &cfg.MinioBucket,
		"REDIS_ADDR":         &cfg.RedisAddr,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"INGEST_QUEUE_NAME":  &cfg.QueueName,
		"VECTOR_BACKEND":     &cfg.VectorBackend,
		"QDRANT_ADDR":        &cfg.QdrantAddr,
		"QDRANT_API_KEY":     &cfg.QdrantAPIKey,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	if os.Getenv("MINIO_USE_SSL") == "true" {
		cfg.MinioUseSSL = true
	}
	return cfg, nil
}

// require reports the first missing setting a command depends on.
func (c fileConfig) require(names ...string) error {
	values := map[string]string{
		"databaseURL": c.DatabaseURL,
		"authSecret":  c.AuthSecret,
		"redisAddr":   c.RedisAddr,
	}
	for _, name := range names {
		if values[name] == "" {
			return fmt.Errorf("config: %s is required", name)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
