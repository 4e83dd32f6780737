package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ragchat/internal/util"
	"ragchat/pkg/ai"
	"ragchat/pkg/chunk"
	"ragchat/pkg/domain"
	"ragchat/pkg/enrich"
	"ragchat/pkg/extract"
	"ragchat/pkg/index"
	"ragchat/pkg/llm"
	"ragchat/pkg/queue"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
	"ragchat/services/ingest/internal/app"
	"ragchat/services/ingest/internal/config"
	"ragchat/services/ingest/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "ingest")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}
	objects, err := storage.Open(storage.Config{
		Backend:        cfg.StorageBackend,
		LocalPath:      cfg.LocalStoragePath,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		util.Fatal("failed to init object storage", "err", err)
	}
	vectors, closeVectors, err := vectorstore.Open(vectorstore.Config{
		Backend: cfg.VectorBackend,
		Qdrant: vectorstore.QdrantConfig{
			Addr:       cfg.QdrantAddr,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.VectorCollection,
		},
		Table: cfg.VectorCollection,
	}, dataStore.DB())
	if err != nil {
		util.Fatal("failed to init vector store", "err", err)
	}
	defer closeVectors()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Client:     redisClient,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init queue", "err", err)
	}

	embedder, err := ai.NewEmbedder(ai.Config{
		Provider:   cfg.EmbeddingProvider,
		Model:      cfg.EmbeddingModel,
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Dimensions: cfg.EmbeddingDim,
	})
	if err != nil {
		util.Fatal("failed to init embedder", "err", err)
	}

	provider := domain.ModelType(cfg.LLMProvider)
	gateway := llm.NewGateway(llm.Config{
		DefaultProvider: provider,
		DefaultModel:    cfg.LLMModel,
		Providers: map[domain.ModelType]llm.ProviderDefaults{
			provider: {APIKey: cfg.LLMAPIKey, BaseURL: cfg.LLMBaseURL},
		},
		Cache:     llm.NewRedisCache(redisClient, "", time.Duration(cfg.LLMCacheTTLHours)*time.Hour),
		CacheChat: true,
	})

	extractOpts := []extract.Option{extract.WithPDFToText(cfg.PDFToText)}
	if cfg.DescribeImages {
		visionModel := cfg.VisionModel
		if visionModel == "" {
			visionModel = cfg.LLMModel
		}
		vision, err := gateway.Resolve(&domain.UserLLMConfig{ModelType: provider, ModelName: visionModel})
		if err != nil {
			util.Fatal("failed to init vision model", "err", err)
		}
		extractOpts = append(extractOpts, extract.WithImageDescriber(llm.Describer{Model: vision}))
	}

	var enricher *enrich.Enricher
	if cfg.EnrichEnabled {
		zero := 0.0
		model, err := gateway.Resolve(&domain.UserLLMConfig{ModelType: provider, ModelName: cfg.LLMModel, Temperature: &zero})
		if err != nil {
			util.Fatal("failed to init enrichment model", "err", err)
		}
		enricher = enrich.New(model, cfg.EnrichConcurrency)
	}

	pipeline, err := app.NewPipeline(app.Config{
		Store:      dataStore,
		Objects:    objects,
		Extractor:  extract.New(extractOpts...),
		Chunker:    chunk.Chunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		Enricher:   enricher,
		Indexer:    index.NewEngine(embedder, vectors, index.Config{BatchSize: cfg.EmbeddingBatchSize}),
		StaleAfter: time.Duration(cfg.ClaimStaleSeconds) * time.Second,
	})
	if err != nil {
		util.Fatal("failed to init pipeline", "err", err)
	}
	jobs.Start(ctx, cfg.QueueConcurrency, pipeline.Handle)

	httpServer := server.New(server.Config{Jobs: jobs, InternalToken: cfg.InternalToken})
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("ingest server listening", "addr", addr, "concurrency", cfg.QueueConcurrency)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
