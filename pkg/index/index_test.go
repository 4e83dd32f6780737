package index

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"ragchat/pkg/chunk"
	"ragchat/pkg/domain"
	"ragchat/pkg/vectorstore"
)

// hashEmbedder maps text to a fixed-size vector by letter counts.
type hashEmbedder struct {
	dim   int
	calls atomic.Int32
	fail  error
}

func (e *hashEmbedder) Dimensions() int { return e.dim }

func (e *hashEmbedder) EmbedText(_ context.Context, text, _ string) ([]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	v := make([]float32, e.dim)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%e.dim]++
		}
	}
	return v, nil
}

func (e *hashEmbedder) EmbedTexts(ctx context.Context, texts []string, task string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedText(ctx, t, task)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type failingUpsertStore struct {
	*vectorstore.MemoryStore
	deletes atomic.Int32
}

func (s *failingUpsertStore) Upsert(context.Context, []vectorstore.Point) error {
	return errors.New("qdrant unavailable")
}

func (s *failingUpsertStore) DeleteByDocument(ctx context.Context, id string) error {
	s.deletes.Add(1)
	return s.MemoryStore.DeleteByDocument(ctx, id)
}

func textChunks(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunk.Chunk{Index: i, SourceIndex: 0, Type: domain.ChunkText, Text: t, MimeType: "text/plain"}
	}
	return out
}

func TestIndexWritesPayloadAndSupersedes(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	emb := &hashEmbedder{dim: 8}
	engine := NewEngine(emb, store, Config{BatchSize: 2})
	doc := domain.Document{ID: "doc-1", UserID: "alice", Filename: "notes.txt", MimeType: "text/plain", Attempt: 1}

	n, err := engine.Index(ctx, doc, textChunks("alpha", "beta", "gamma"))
	if err != nil || n != 3 {
		t.Fatalf("index: %d %v", n, err)
	}
	if emb.calls.Load() != 2 {
		t.Fatalf("expected 2 batches, got %d", emb.calls.Load())
	}

	doc.Attempt = 2
	if _, err := engine.Index(ctx, doc, textChunks("alpha", "beta")); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if store.CountByDocument("doc-1") != 2 {
		t.Fatalf("expected stale points superseded, got %d", store.CountByDocument("doc-1"))
	}

	results, err := engine.Search(ctx, "alice", "alpha", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].Text != "alpha" || results[0].DocumentID != "doc-1" || results[0].Filename != "notes.txt" {
		t.Fatalf("unexpected results %+v", results)
	}
	if vectorstore.PayloadInt(results[0].Metadata, "attempt") != 2 {
		t.Fatalf("expected attempt tag 2, got %v", results[0].Metadata["attempt"])
	}

	other, err := engine.Search(ctx, "bob", "alpha", 5)
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no results for another user, got %v %v", other, err)
	}
}

func TestIndexFailures(t *testing.T) {
	ctx := context.Background()
	doc := domain.Document{ID: "doc-9", UserID: "alice"}

	_, err := NewEngine(&hashEmbedder{dim: 4, fail: errors.New("rate limited")}, vectorstore.NewMemoryStore(), Config{}).
		Index(ctx, doc, textChunks("x"))
	var ierr *IndexingError
	if !errors.As(err, &ierr) || ierr.Stage != StageEmbed || ierr.DocumentID != "doc-9" {
		t.Fatalf("expected embed IndexingError, got %v", err)
	}

	store := &failingUpsertStore{MemoryStore: vectorstore.NewMemoryStore()}
	_, err = NewEngine(&hashEmbedder{dim: 4}, store, Config{}).Index(ctx, doc, textChunks("x"))
	if !errors.As(err, &ierr) || ierr.Stage != StageUpsert {
		t.Fatalf("expected upsert IndexingError, got %v", err)
	}
	if store.deletes.Load() != 2 {
		t.Fatalf("expected supersede plus cleanup delete, got %d", store.deletes.Load())
	}
}

func TestPointIDIsDeterministic(t *testing.T) {
	if PointID("doc", 1) != PointID("doc", 1) {
		t.Fatalf("expected stable ids")
	}
	if PointID("doc", 1) == PointID("doc", 2) || PointID("doc", 1) == PointID("doc2", 1) {
		t.Fatalf("expected distinct ids")
	}
}
