package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ragchat/internal/authn"
	"ragchat/internal/ratelimit"
	"ragchat/internal/util"
	"ragchat/pkg/ai"
	"ragchat/pkg/domain"
	"ragchat/pkg/index"
	"ragchat/pkg/llm"
	"ragchat/pkg/realtime"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
	"ragchat/pkg/websearch"
	"ragchat/services/chat/internal/app"
	"ragchat/services/chat/internal/config"
	"ragchat/services/chat/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "chat")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to open database", "err", err)
	}
	verifier, err := authn.NewVerifier(authn.Config{
		Secret:   cfg.AuthSecret,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	hub := realtime.NewHub()
	var (
		redisClient *redis.Client
		limiter     *ratelimit.FixedWindowLimiter
		cache       llm.Cache
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		if cfg.RateLimitPerMinute > 0 {
			limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "ragchat:chat:ratelimit", cfg.RateLimitPerMinute, time.Minute)
			if err != nil {
				util.Fatal("failed to init rate limiter", "err", err)
			}
		}
		cache = llm.NewRedisCache(redisClient, "", time.Duration(cfg.LLMCacheTTLHours)*time.Hour)

		bus := realtime.NewRedisBus(redisClient, "")
		ready := make(chan struct{})
		go func() {
			if err := bus.Run(ctx, hub, ready); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime bus stopped", "err", err)
			}
		}()
		select {
		case <-ready:
			hub.UseBus(bus)
		case <-time.After(5 * time.Second):
			logger.Warn("realtime bus not ready, delivering locally")
		}
	}

	providers := make(map[domain.ModelType]llm.ProviderDefaults)
	for modelType, p := range cfg.ProviderDefaults() {
		providers[modelType] = llm.ProviderDefaults{APIKey: p.APIKey, BaseURL: p.BaseURL}
	}
	openRouter := cfg.ProviderDefaults()[domain.ModelOpenRouter]
	gateway := llm.NewGateway(llm.Config{
		DefaultProvider: domain.ModelType(strings.ToLower(cfg.DefaultProvider)),
		DefaultModel:    cfg.DefaultModel,
		Providers:       providers,
		OpenRouter: llm.OpenRouterConfig{
			APIKey:        openRouter.APIKey,
			BaseURL:       openRouter.BaseURL,
			SiteURL:       cfg.OpenRouterSiteURL,
			SiteName:      cfg.OpenRouterSiteName,
			Fallbacks:     cfg.OpenRouterFallback,
			ProviderOrder: cfg.OpenRouterOrder,
		},
		Timeout:   time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		Cache:     cache,
		CacheChat: cfg.LLMCacheChat,
	})

	appCfg := app.Config{
		Store:        dataStore,
		Models:       gateway,
		Hub:          hub,
		TopK:         cfg.TopK,
		HistoryLimit: cfg.HistoryLimit,
		UseDocuments: cfg.RetrievalDefault(),
	}
	if cfg.EmbeddingModel != "" {
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
		if dim := embedder.Dimensions(); dim > 0 {
			if err := vectors.EnsureCollection(ctx, dim); err != nil {
				logger.Warn("vector collection not ready, retrieval returns nothing until indexed", "err", err)
			}
		}
		appCfg.Retriever = index.NewEngine(embedder, vectors, index.Config{})
	}
	if search := websearch.New(websearch.Config{APIKey: cfg.WebSearchAPIKey, EngineID: cfg.WebSearchEngineID}); search.Enabled() {
		appCfg.WebSearch = search
	}

	chatApp, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	httpServer, err := server.New(server.Config{
		App:          chatApp,
		Verifier:     verifier,
		Limiter:      limiter,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CORSOrigins:  cfg.CORSOrigins,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	// No write timeout: streamed responses and websockets outlive it.
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		chatApp.Wait()
	}()

	slog.Info("chat server listening", "addr", addr, "default_provider", cfg.DefaultProvider, "default_model", cfg.DefaultModel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
