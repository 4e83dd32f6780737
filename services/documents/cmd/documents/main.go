package main

import (
	"log/slog"
	"net/http"
	"time"

	"ragchat/internal/authn"
	"ragchat/internal/util"
	"ragchat/pkg/queue"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
	"ragchat/services/documents/internal/app"
	"ragchat/services/documents/internal/config"
	"ragchat/services/documents/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "documents")

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
	dispatcher, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueName,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		util.Fatal("failed to init queue", "err", err)
	}
	verifier, err := authn.NewVerifier(authn.Config{
		Secret:   cfg.AuthSecret,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	appCore, err := app.New(app.Config{
		Store:      dataStore,
		Objects:    objects,
		Dispatcher: dispatcher,
		Vectors:    vectors,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Verifier:       verifier,
		InternalToken:  cfg.InternalToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("documents server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
