package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragchat/internal/util"
	"ragchat/pkg/chunk"
	"ragchat/pkg/enrich"
	"ragchat/pkg/extract"
	"ragchat/pkg/index"
	"ragchat/pkg/queue"
	"ragchat/pkg/storage"
	"ragchat/pkg/store"
)

// Config holds the collaborators of the ingestion pipeline.
type Config struct {
	Store     store.DocumentStore
	Objects   storage.ObjectStore
	Extractor *extract.Extractor
	Chunker   chunk.Chunker
	// Enricher is optional; a nil or disabled enricher skips the stage.
	Enricher *enrich.Enricher
	Indexer  *index.Engine
	// StaleAfter is how long a processing claim is honored before a
	// redelivered job may take the document over. Defaults to 15 minutes.
	StaleAfter time.Duration
}

// Pipeline drives one document from queued to a terminal state.
type Pipeline struct {
	store      store.DocumentStore
	objects    storage.ObjectStore
	extractor  *extract.Extractor
	chunker    chunk.Chunker
	enricher   *enrich.Enricher
	indexer    *index.Engine
	staleAfter time.Duration
	now        func() time.Time
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Indexer == nil {
		return nil, errors.New("indexer required")
	}
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = extract.New()
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Pipeline{
		store:      cfg.Store,
		objects:    cfg.Objects,
		extractor:  extractor,
		chunker:    cfg.Chunker,
		enricher:   cfg.Enricher,
		indexer:    cfg.Indexer,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

// Handle adapts Process to a queue handler.
func (p *Pipeline) Handle(ctx context.Context, job queue.JobStatus) error {
	return p.Process(ctx, job.DocumentID)
}

// Process claims the document and runs extract, chunk, enrich and index.
// Any failure after the claim is persisted on the document and returned as
// a permanent queue error. Losing the claim is not an error.
func (p *Pipeline) Process(ctx context.Context, documentID string) error {
	logger := util.Logger(ctx).With("document_id", documentID)
	claimed, err := p.store.ClaimDocument(ctx, documentID, p.now().Add(-p.staleAfter))
	if err != nil {
		return err
	}
	if !claimed {
		logger.Info("document claim skipped")
		return nil
	}
	doc, ok, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return p.fail(ctx, documentID, fmt.Errorf("load document: %w", err))
	}
	if !ok {
		logger.Info("document removed before processing")
		return nil
	}
	logger = logger.With("user_id", doc.UserID, "attempt", doc.Attempt)
	logger.Info("document processing started", "mime_type", doc.MimeType)

	data, err := p.objects.Get(ctx, doc.FilePath)
	if err != nil {
		return p.fail(ctx, doc.ID, fmt.Errorf("load object: %w", err))
	}
	units, err := p.extractor.Extract(ctx, data, doc.MimeType)
	if err != nil {
		return p.fail(ctx, doc.ID, err)
	}
	logger.Info("document extracted", "units", len(units))

	chunks, err := p.chunker.Split(units, doc.MimeType)
	if err != nil {
		return p.fail(ctx, doc.ID, err)
	}
	logger.Info("document chunked", "chunks", len(chunks))

	if p.enricher.Enabled() {
		report := p.enricher.Enrich(ctx, chunks)
		logger.Info("document enriched", "enriched", report.Enriched, "skipped", report.Skipped)
	}

	count, err := p.indexer.Index(ctx, doc, chunks)
	if err != nil {
		return p.fail(ctx, doc.ID, err)
	}
	if err := p.store.CompleteDocument(ctx, doc.ID, count); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			logger.Warn("document changed while processing", "err", err)
			return p.dropIfDeleted(ctx, doc.ID, err)
		}
		return err
	}
	logger.Info("document completed", "chunks", count)
	return nil
}

// dropIfDeleted removes the vectors just written when the document row went
// away mid-run. A row that still exists belongs to a newer attempt and keeps
// its vectors.
func (p *Pipeline) dropIfDeleted(ctx context.Context, documentID string, completeErr error) error {
	ctx = context.WithoutCancel(ctx)
	if !errors.Is(completeErr, store.ErrNotFound) {
		_, ok, err := p.store.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if err := p.indexer.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("drop vectors of deleted document: %w", err)
	}
	util.Logger(ctx).Info("vectors of deleted document dropped", "document_id", documentID)
	return nil
}

// fail records err on the document. A cancelled context leaves the claim in
// place so a redelivery can take over once it goes stale.
func (p *Pipeline) fail(ctx context.Context, documentID string, err error) error {
	logger := util.Logger(ctx).With("document_id", documentID)
	if ctx.Err() != nil {
		logger.Warn("document processing interrupted", "err", err)
		return err
	}
	logger.Error("document processing failed", "err", err)
	if failErr := p.store.FailDocument(context.WithoutCancel(ctx), documentID, err.Error()); failErr != nil {
		logger.Error("persist document failure", "err", failErr)
		if !errors.Is(failErr, store.ErrInvalidTransition) && !errors.Is(failErr, store.ErrNotFound) {
			return failErr
		}
	}
	return queue.Permanent(err)
}
