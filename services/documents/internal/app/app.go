package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ragchat/internal/util"
	"ragchat/pkg/domain"
	"ragchat/pkg/extract"
	"ragchat/pkg/queue"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
)

var (
	ErrFilenameRequired = errors.New("filename required")
	ErrNotFound         = errors.New("document not found")
	// ErrNotTerminal is returned when reprocessing a document that is still
	// queued or processing.
	ErrNotTerminal = errors.New("document is still being processed")
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Store      store.Store
	Objects    storage.ObjectStore
	Dispatcher queue.Dispatcher
	Vectors    vectorstore.Store
	// PresignExpiry bounds download links; defaults to 15 minutes.
	PresignExpiry time.Duration
}

// App owns document uploads and their removal.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	dispatcher    queue.Dispatcher
	vectors       vectorstore.Store
	presignExpiry time.Duration
}

// New constructs the application from already opened backends.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	if cfg.Vectors == nil {
		return nil, errors.New("vector store required")
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		dispatcher:    cfg.Dispatcher,
		vectors:       cfg.Vectors,
		presignExpiry: expiry,
	}, nil
}

// Upload stores the file, records a queued document and hands it to the
// dispatcher. If the hand-off fails the document is persisted as failed and
// a *queue.DispatchError is returned; the upload is never silently stranded.
func (a *App) Upload(ctx context.Context, userID, filename string, r io.Reader, size int64, declaredType string) (domain.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Document{}, ErrFilenameRequired
	}
	id := util.NewID()
	key := storage.ObjectKey(userID, id, filename)
	mimeType := extract.DetectMIME(filename, declaredType)
	if err := a.objects.Put(ctx, key, r, size, mimeType); err != nil {
		return domain.Document{}, fmt.Errorf("save file: %w", err)
	}
	now := time.Now().UTC()
	doc := domain.Document{
		ID:        id,
		UserID:    userID,
		Filename:  storage.SafeFilename(filename),
		FilePath:  key,
		MimeType:  mimeType,
		SizeBytes: size,
		Status:    domain.StatusQueued,
		Attempt:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateDocument(ctx, doc); err != nil {
		_ = a.objects.Delete(context.WithoutCancel(ctx), key)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	return a.enqueue(ctx, doc)
}

func (a *App) enqueue(ctx context.Context, doc domain.Document) (domain.Document, error) {
	logger := util.Logger(ctx).With("document_id", doc.ID, "user_id", doc.UserID)
	job, err := a.dispatcher.Enqueue(ctx, doc.ID)
	if err != nil {
		dispatchErr := &queue.DispatchError{DocumentID: doc.ID, Err: err}
		logger.Error("document dispatch failed", "err", err)
		if failErr := a.store.FailDocument(context.WithoutCancel(ctx), doc.ID, dispatchErr.Error()); failErr != nil {
			logger.Error("persist dispatch failure", "err", failErr)
		}
		return domain.Document{}, dispatchErr
	}
	logger.Info("document queued", "job_id", job.ID, "attempt", doc.Attempt)
	return doc, nil
}

// List returns the user's documents, newest first.
func (a *App) List(ctx context.Context, userID string) ([]domain.Document, error) {
	return a.store.ListDocuments(ctx, userID)
}

// Get returns a document owned by userID. Documents of other users are
// reported as missing.
func (a *App) Get(ctx context.Context, userID, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok || doc.UserID != userID {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// DownloadURL returns a short-lived link to the original upload.
func (a *App) DownloadURL(ctx context.Context, userID, id string) (string, string, error) {
	doc, err := a.Get(ctx, userID, id)
	if err != nil {
		return "", "", err
	}
	url, err := a.objects.PresignGet(ctx, doc.FilePath, a.presignExpiry)
	if err != nil {
		return "", "", err
	}
	return url, doc.Filename, nil
}

// Reprocess puts a completed or failed document back on the queue as a new
// attempt. The stored object is reused.
func (a *App) Reprocess(ctx context.Context, userID, id string) (domain.Document, error) {
	if _, err := a.Get(ctx, userID, id); err != nil {
		return domain.Document{}, err
	}
	doc, err := a.store.ResetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return domain.Document{}, ErrNotTerminal
		}
		return domain.Document{}, err
	}
	return a.enqueue(ctx, doc)
}

// Delete removes the document's vectors, its object and finally its row.
func (a *App) Delete(ctx context.Context, userID, id string) error {
	doc, err := a.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := a.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := a.objects.Delete(ctx, doc.FilePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := a.store.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	util.Logger(ctx).Info("document deleted", "document_id", doc.ID, "user_id", userID)
	return nil
}

// PurgeUser removes every vector, object and row owned by userID.
func (a *App) PurgeUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id required")
	}
	if err := a.vectors.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := a.objects.DeletePrefix(ctx, storage.UserPrefix(userID)); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	if err := a.store.PurgeUser(ctx, userID); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	util.Logger(ctx).Info("user purged", "user_id", userID)
	return nil
}
