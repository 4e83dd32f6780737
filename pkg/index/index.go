// Package index embeds chunks and keeps the vector store in step with
// document attempts.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ragchat/pkg/ai"
	"ragchat/pkg/chunk"
	"ragchat/pkg/domain"
	"ragchat/pkg/vectorstore"
)

// Indexing stages reported in IndexingError.
const (
	StageCollection = "collection"
	StageEmbed      = "embed"
	StageSupersede  = "supersede"
	StageUpsert     = "upsert"
)

// pointNamespace seeds deterministic point ids.
var pointNamespace = uuid.MustParse("6f1c9a52-3d0e-4b8a-9f57-2a4c1e8d7b10")

// IndexingError is fatal for the document being indexed.
type IndexingError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("index document %s: %s: %v", e.DocumentID, e.Stage, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// Config tunes batching.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Engine writes chunk embeddings and runs user-scoped similarity search.
type Engine struct {
	embedder ai.Embedder
	store    vectorstore.Store
	cfg      Config
}

func NewEngine(embedder ai.Embedder, store vectorstore.Store, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Engine{embedder: embedder, store: store, cfg: cfg}
}

// PointID is stable for a document and chunk position so a reprocess
// overwrites rather than duplicates.
func PointID(documentID string, index int) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID+":"+strconv.Itoa(index))).String()
}

// Index replaces every point of doc with the embeddings of chunks and
// returns how many were written.
func (e *Engine) Index(ctx context.Context, doc domain.Document, chunks []chunk.Chunk) (int, error) {
	fail := func(stage string, err error) (int, error) {
		return 0, &IndexingError{DocumentID: doc.ID, Stage: stage, Err: err}
	}
	if len(chunks) == 0 {
		return fail(StageEmbed, errors.New("no chunks to index"))
	}
	if err := e.store.EnsureCollection(ctx, e.embedder.Dimensions()); err != nil {
		return fail(StageCollection, err)
	}
	vectors, err := e.embed(ctx, chunks)
	if err != nil {
		return fail(StageEmbed, err)
	}
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:      PointID(doc.ID, c.Index),
			Vector:  vectors[i],
			Payload: payload(doc, c),
		}
	}
	if err := e.store.DeleteByDocument(ctx, doc.ID); err != nil {
		return fail(StageSupersede, err)
	}
	if err := e.store.Upsert(ctx, points); err != nil {
		if cleanupErr := e.store.DeleteByDocument(context.WithoutCancel(ctx), doc.ID); cleanupErr != nil {
			slog.Warn("partial index cleanup failed", "document_id", doc.ID, "err", cleanupErr)
		}
		return fail(StageUpsert, err)
	}
	return len(points), nil
}

// embed returns one vector per chunk in input order.
func (e *Engine) embed(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	want := e.embedder.Dimensions()
	batcher, canBatch := e.embedder.(ai.BatchEmbedder)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for start := 0; start < len(chunks); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, embedText(c))
			}
			var out [][]float32
			if canBatch {
				var err error
				out, err = batcher.EmbedTexts(gctx, texts, ai.TaskDocument)
				if err != nil {
					return err
				}
			} else {
				out = make([][]float32, len(texts))
				for i, text := range texts {
					v, err := e.embedder.EmbedText(gctx, text, ai.TaskDocument)
					if err != nil {
						return err
					}
					out[i] = v
				}
			}
			if len(out) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(out), len(texts))
			}
			for i, v := range out {
				if want > 0 && len(v) != want {
					return fmt.Errorf("%w: got %d, want %d", vectorstore.ErrDimensionMismatch, len(v), want)
				}
				vectors[start+i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedText prefixes the enrichment title so short chunks carry context.
func embedText(c chunk.Chunk) string {
	if title := strings.TrimSpace(c.Metadata["title"]); title != "" {
		return title + "\n\n" + c.Text
	}
	return c.Text
}

func payload(doc domain.Document, c chunk.Chunk) map[string]any {
	p := make(map[string]any, len(c.Metadata)+10)
	for k, v := range c.Metadata {
		p[k] = v
	}
	p["document_id"] = doc.ID
	p["user_id"] = doc.UserID
	p["filename"] = doc.Filename
	p["mime_type"] = doc.MimeType
	p["chunk_type"] = string(c.Type)
	p["chunk_index"] = int64(c.Index)
	p["source_index"] = int64(c.SourceIndex)
	p["attempt"] = int64(doc.Attempt)
	p["text"] = c.Text
	p["image_support"] = c.Type == domain.ChunkImage
	return p
}

// Result is one retrieved chunk.
type Result struct {
	DocumentID string
	Filename   string
	ChunkIndex int
	ChunkType  domain.ChunkType
	Text       string
	Score      float32
	Metadata   map[string]any
}

// Search embeds query and returns the k closest chunks owned by userID.
func (e *Engine) Search(ctx context.Context, userID, query string, k int) ([]Result, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, vectorstore.ErrUserRequired
	}
	if k <= 0 {
		k = 5
	}
	vec, err := e.embedder.EmbedText(ctx, query, ai.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.Search(ctx, userID, vec, k)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			DocumentID: vectorstore.PayloadString(h.Payload, "document_id"),
			Filename:   vectorstore.PayloadString(h.Payload, "filename"),
			ChunkIndex: vectorstore.PayloadInt(h.Payload, "chunk_index"),
			ChunkType:  domain.ChunkType(vectorstore.PayloadString(h.Payload, "chunk_type")),
			Text:       vectorstore.PayloadString(h.Payload, "text"),
			Score:      h.Score,
			Metadata:   h.Payload,
		})
	}
	return results, nil
}

// DeleteDocument removes every point of a document.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	return e.store.DeleteByDocument(ctx, documentID)
}

// DeleteUser removes every point owned by a user.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	return e.store.DeleteByUser(ctx, userID)
}
