package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ragchat/internal/authn"
	"ragchat/internal/util"
	"ragchat/pkg/queue"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
)

const usage = `usage: ragctl <command> [args]

commands:
  migrate                 create or upgrade the database schema
  reprocess <doc-id>      reset a finished document and queue it again
  purge-user <user-id>    delete every vector, object and row of a user
  token [-ttl 1h] <user-id>  print a signed access token for a user
`

var errUsage = errors.New("invalid usage")

func main() {
	cfg, err := loadConfig(envOr("CONFIG_PATH", "config.yaml"))
	if err != nil {
		util.Fatal("failed to load config", "err", err)
	}
	util.InitLogger(cfg.LogLevel, "ragctl")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "ragctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg fileConfig, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		if len(rest) != 0 {
			return errUsage
		}
		return migrate(cfg, out)
	case "reprocess":
		if len(rest) != 1 {
			return errUsage
		}
		return reprocess(ctx, cfg, rest[0], out)
	case "purge-user":
		if len(rest) != 1 {
			return errUsage
		}
		return purgeUser(ctx, cfg, rest[0], out)
	case "token":
		return token(cfg, rest, out)
	case "help", "-h", "--help":
		_, err := fmt.Fprint(out, usage)
		return err
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func migrate(cfg fileConfig, out io.Writer) error {
	if err := cfg.require("databaseURL"); err != nil {
		return err
	}
	if _, err := store.Open(cfg.DatabaseURL); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, "schema up to date")
	return err
}

func reprocess(ctx context.Context, cfg fileConfig, docID string, out io.Writer) error {
	if err := cfg.require("databaseURL", "redisAddr"); err != nil {
		return err
	}
	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	jobs, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueName,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		return err
	}
	return reprocessDocument(ctx, dataStore, jobs, docID, out)
}

func reprocessDocument(ctx context.Context, docs store.DocumentStore, jobs queue.Dispatcher, docID string, out io.Writer) error {
	doc, err := docs.ResetDocument(ctx, strings.TrimSpace(docID))
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("document %s is still being processed", docID)
		}
		return err
	}
	job, err := jobs.Enqueue(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	_, err = fmt.Fprintf(out, "document %s queued as job %s\n", doc.ID, job.ID)
	return err
}

func purgeUser(ctx context.Context, cfg fileConfig, userID string, out io.Writer) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errUsage
	}
	if err := cfg.require("databaseURL"); err != nil {
		return err
	}
	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
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
		return err
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
		return err
	}
	defer closeVectors()

	if err := vectors.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := objects.DeletePrefix(ctx, storage.UserPrefix(userID)); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	if err := dataStore.PurgeUser(ctx, userID); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	_, err = fmt.Fprintf(out, "user %s purged\n", userID)
	return err
}

func token(cfg fileConfig, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return errUsage
	}
	if err := cfg.require("authSecret"); err != nil {
		return err
	}
	verifier, err := authn.NewVerifier(authn.Config{
		Secret:   cfg.AuthSecret,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		return err
	}
	signed, err := verifier.Issue(fs.Arg(0), *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, signed)
	return err
}
