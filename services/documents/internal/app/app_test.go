package app

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/pkg/domain"
	"ragchat/pkg/queue"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
	"ragchat/pkg/vectorstore"
)

type fixture struct {
	app     *App
	store   *store.GormStore
	objects *storage.LocalStore
	queue   *queue.ChannelQueue
	vectors *vectorstore.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
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
	st, err := store.NewGormStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	objects, err := storage.NewLocalStore(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	q := queue.NewChannelQueue(8, 1)
	vectors := vectorstore.NewMemoryStore()
	a, err := New(Config{Store: st, Objects: objects, Dispatcher: q, Vectors: vectors})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return fixture{app: a, store: st, objects: objects, queue: q, vectors: vectors}
}

func TestUploadQueuesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := "hello world"
	doc, err := f.app.Upload(ctx, "u1", "../notes.md", strings.NewReader(body), int64(len(body)), "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Status != domain.StatusQueued || doc.MimeType != "text/markdown" {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.Filename != "notes.md" {
		t.Fatalf("filename = %q, want sanitized notes.md", doc.Filename)
	}
	data, err := f.objects.Get(ctx, doc.FilePath)
	if err != nil || string(data) != body {
		t.Fatalf("stored object = %q, %v", data, err)
	}
	stored, ok, err := f.store.GetDocument(ctx, doc.ID)
	if err != nil || !ok || stored.Status != domain.StatusQueued {
		t.Fatalf("stored doc = %+v, %v, %v", stored, ok, err)
	}
}

func TestUploadKeepsDeclaredType(t *testing.T) {
	f := newFixture(t)
	doc, err := f.app.Upload(context.Background(), "u1", "notes.txt", strings.NewReader("x"), 1, "application/x-unknown")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.MimeType != "application/x-unknown" {
		t.Fatalf("mime = %q, want the declared type", doc.MimeType)
	}
}

func TestUploadDispatchFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.Close()

	_, err := f.app.Upload(ctx, "u1", "a.txt", strings.NewReader("x"), 1, "text/plain")
	var dispatchErr *queue.DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("err = %v, want DispatchError", err)
	}
	if !errors.Is(err, queue.ErrQueueClosed) {
		t.Fatalf("err = %v, want wrapped ErrQueueClosed", err)
	}
	doc, ok, err := f.store.GetDocument(ctx, dispatchErr.DocumentID)
	if err != nil || !ok {
		t.Fatalf("get document: %v %v", ok, err)
	}
	if doc.Status != domain.StatusFailed || doc.ErrorMessage == "" {
		t.Fatalf("doc = %+v, want failed with message", doc)
	}
}

func TestGetHidesOtherUsersDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.app.Upload(ctx, "u1", "a.txt", strings.NewReader("x"), 1, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := f.app.Get(ctx, "u2", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get as other user err = %v, want ErrNotFound", err)
	}
	if err := f.app.Delete(ctx, "u2", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete as other user err = %v, want ErrNotFound", err)
	}
}

func TestReprocessRequiresTerminalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.app.Upload(ctx, "u1", "a.txt", strings.NewReader("x"), 1, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := f.app.Reprocess(ctx, "u1", doc.ID); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("reprocess queued err = %v, want ErrNotTerminal", err)
	}
	if err := f.store.FailDocument(ctx, doc.ID, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	again, err := f.app.Reprocess(ctx, "u1", doc.ID)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if again.Status != domain.StatusQueued || again.Attempt != 2 || again.ErrorMessage != "" {
		t.Fatalf("reprocessed doc = %+v", again)
	}
}

func TestDeleteRemovesVectorsObjectAndRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc, err := f.app.Upload(ctx, "u1", "a.txt", strings.NewReader("x"), 1, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	_ = f.vectors.EnsureCollection(ctx, 2)
	if err := f.vectors.Upsert(ctx, []vectorstore.Point{
		{ID: "p1", Vector: []float32{1, 0}, Payload: map[string]any{"document_id": doc.ID, "user_id": "u1"}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := f.app.Delete(ctx, "u1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := f.vectors.CountByDocument(doc.ID); n != 0 {
		t.Fatalf("vectors left = %d", n)
	}
	if _, err := f.objects.Get(ctx, doc.FilePath); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("object get err = %v, want ErrObjectNotFound", err)
	}
	if _, ok, _ := f.store.GetDocument(ctx, doc.ID); ok {
		t.Fatalf("document row still present")
	}
}

func TestPurgeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine, err := f.app.Upload(ctx, "u1", "a.txt", strings.NewReader("x"), 1, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	theirs, err := f.app.Upload(ctx, "u2", "b.txt", strings.NewReader("y"), 1, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := f.app.PurgeUser(ctx, "u1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	docs, err := f.app.List(ctx, "u1")
	if err != nil || len(docs) != 0 {
		t.Fatalf("u1 docs = %v, %v", docs, err)
	}
	if _, err := f.objects.Get(ctx, mine.FilePath); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("u1 object err = %v", err)
	}
	if _, err := f.objects.Get(ctx, theirs.FilePath); err != nil {
		t.Fatalf("u2 object should survive: %v", err)
	}
}
