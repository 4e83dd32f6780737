package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/internal/authn"
	"ragchat/pkg/domain"
	"ragchat/pkg/queue"
	"ragchat/pkg/store"
)

func TestRunUsage(t *testing.T) {
	cases := [][]string{
		nil,
		{"reprocess"},
		{"purge-user", "a", "b"},
		{"token"},
		{"migrate", "extra"},
		{"frobnicate"},
	}
	for _, args := range cases {
		err := run(context.Background(), fileConfig{}, args, &bytes.Buffer{})
		if !errors.Is(err, errUsage) {
			t.Fatalf("run(%v) err = %v, want usage error", args, err)
		}
	}
}

func TestTokenCommand(t *testing.T) {
	cfg := fileConfig{AuthSecret: "dev-secret", AuthIssuer: "ragchat"}
	var out bytes.Buffer
	if err := run(context.Background(), cfg, []string{"token", "-ttl", "5m", "user-7"}, &out); err != nil {
		t.Fatalf("token: %v", err)
	}
	verifier, err := authn.NewVerifier(authn.Config{Secret: "dev-secret", Issuer: "ragchat"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	sub, err := verifier.VerifySubject(strings.TrimSpace(out.String()))
	if err != nil || sub != "user-7" {
		t.Fatalf("subject = %q err = %v", sub, err)
	}

	if err := run(context.Background(), fileConfig{}, []string{"token", "user-7"}, &out); err == nil || !strings.Contains(err.Error(), "authSecret") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestReprocessDocument(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ctl.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	s, err := store.NewGormStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := s.CreateDocument(ctx, domain.Document{ID: "doc-1", UserID: "u1", Filename: "a.txt", FilePath: "u1/doc-1/a.txt", MimeType: "text/plain"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	jobs := queue.NewChannelQueue(4, 0)
	defer jobs.Close()

	var out bytes.Buffer
	if err := reprocessDocument(ctx, s, jobs, "doc-1", &out); err == nil {
		t.Fatalf("expected queued document to be rejected")
	}

	if err := s.FailDocument(ctx, "doc-1", "extract failed"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := reprocessDocument(ctx, s, jobs, "doc-1", &out); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	doc, _, _ := s.GetDocument(ctx, "doc-1")
	if doc.Status != domain.StatusQueued || doc.Attempt != 2 {
		t.Fatalf("unexpected document state: %+v", doc)
	}
	if !strings.Contains(out.String(), "document doc-1 queued") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestLoadConfigEnvWithoutFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env" || !cfg.MinioUseSSL {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("redisAddr: \"localhost:6379\"\nqueueName: \"jobs\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.QueueName != "jobs" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
