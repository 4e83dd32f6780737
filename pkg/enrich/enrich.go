// Package enrich attaches LLM-derived metadata to text chunks.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"ragchat/pkg/chunk"
	"ragchat/pkg/domain"
	"ragchat/pkg/llm"
)

const formatInstructions = "The output should be a markdown code snippet formatted in the following schema, including the leading and trailing \"```json\" and \"```\":\n\n" +
	"```json\n{\n" +
	"\t\"title\": string  // What is the main title of the document?\n" +
	"\t\"summary\": string  // Provide a brief summary of the document.\n" +
	"\t\"keywords\": string[]  // What are the main keywords of the document?\n" +
	"\t\"questions\": string[]  // What are some questions that this document answers?\n" +
	"}\n```"

// EnrichmentError is a per-chunk failure. It never fails the document.
type EnrichmentError struct {
	ChunkIndex int
	Err        error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich chunk %d: %v", e.ChunkIndex, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// Report summarizes one Enrich call.
type Report struct {
	Enriched int
	Skipped  int
	Errors   []*EnrichmentError
}

// Enricher asks a model for title, summary, keywords and questions per
// chunk. A nil model disables enrichment.
type Enricher struct {
	model       llm.Model
	concurrency int
}

func New(model llm.Model, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Enricher{model: model, concurrency: concurrency}
}

func (e *Enricher) Enabled() bool {
	return e != nil && e.model != nil
}

// Enrich updates chunk metadata in place. Image chunks are left alone.
func (e *Enricher) Enrich(ctx context.Context, chunks []chunk.Chunk) Report {
	var report Report
	if !e.Enabled() {
		return report
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range chunks {
		c := &chunks[i]
		if c.Type != domain.ChunkText || strings.TrimSpace(c.Text) == "" {
			continue
		}
		g.Go(func() error {
			meta, err := e.extract(gctx, c.Text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, &EnrichmentError{ChunkIndex: c.Index, Err: err})
				report.Skipped++
				slog.Warn("chunk enrichment skipped", "chunk_index", c.Index, "err", err)
				return nil
			}
			if c.Metadata == nil {
				c.Metadata = make(map[string]string, len(meta))
			}
			for k, v := range meta {
				c.Metadata[k] = v
			}
			report.Enriched++
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (e *Enricher) extract(ctx context.Context, text string) (map[string]string, error) {
	prompt := "Extract the following information from the text:\n\n" + formatInstructions + "\n\nText: " + text
	out, err := e.model.Invoke(ctx, []llm.Message{llm.User(prompt)})
	if err != nil {
		return nil, err
	}
	return parseMetadata(out)
}

type enrichment struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Keywords  any    `json:"keywords"`
	Questions any    `json:"questions"`
}

// parseMetadata reads the model's JSON answer, with or without a code fence.
func parseMetadata(raw string) (map[string]string, error) {
	body := stripFence(raw)
	var parsed enrichment
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("parse enrichment: %w", err)
	}
	meta := map[string]string{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	set("title", parsed.Title)
	set("summary", parsed.Summary)
	set("keywords", joinValues(parsed.Keywords, ", "))
	set("questions", joinValues(parsed.Questions, "\n"))
	if len(meta) == 0 {
		return nil, errors.New("enrichment response has no fields")
	}
	return meta, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if start := strings.Index(s, "```"); start >= 0 {
		s = s[start+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}
	return s
}

func joinValues(v any, sep string) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep)
	default:
		return ""
	}
}
