package enrich

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"ragchat/pkg/chunk"
	"ragchat/pkg/domain"
	"ragchat/pkg/llm"
)

type scriptedModel struct {
	calls atomic.Int32
	reply func(prompt string) (string, error)
}

func (m *scriptedModel) Provider() domain.ModelType       { return domain.ModelOpenAI }
func (m *scriptedModel) Name() string                     { return "scripted" }
func (m *scriptedModel) Capabilities() llm.Capabilities   { return llm.Capabilities{} }
func (m *scriptedModel) FormatVision(string, llm.Image) (llm.Message, error) {
	return llm.Message{}, llm.ErrVisionUnsupported
}

func (m *scriptedModel) Invoke(_ context.Context, msgs []llm.Message) (string, error) {
	m.calls.Add(1)
	return m.reply(msgs[len(msgs)-1].Content)
}

func (m *scriptedModel) Stream(ctx context.Context, msgs []llm.Message) (*llm.Stream, error) {
	out, err := m.Invoke(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return llm.StreamOf(out), nil
}

func TestParseMetadata(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]string
		err  bool
	}{
		{
			name: "fenced",
			raw:  "```json\n{\"title\":\"Intro\",\"summary\":\"s\",\"keywords\":[\"a\",\"b\"],\"questions\":[\"q1?\",\"q2?\"]}\n```",
			want: map[string]string{"title": "Intro", "summary": "s", "keywords": "a, b", "questions": "q1?\nq2?"},
		},
		{
			name: "bare with string keywords",
			raw:  "Here you go: {\"title\":\"T\",\"keywords\":\"x, y\"}",
			want: map[string]string{"title": "T", "keywords": "x, y"},
		},
		{name: "not json", raw: "I cannot help with that", err: true},
		{name: "empty object", raw: "{}", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMetadata(tc.raw)
			if tc.err {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("%s: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}

func TestEnrichSkipsFailuresAndImages(t *testing.T) {
	model := &scriptedModel{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "broken") {
			return "", errors.New("provider down")
		}
		return `{"title":"ok","summary":"fine","keywords":["k"],"questions":["q?"]}`, nil
	}}
	chunks := []chunk.Chunk{
		{Index: 0, Type: domain.ChunkText, Text: "first", Metadata: map[string]string{"page": "1"}},
		{Index: 1, Type: domain.ChunkText, Text: "broken chunk"},
		{Index: 2, Type: domain.ChunkImage, Text: "a chart"},
		{Index: 3, Type: domain.ChunkText, Text: "third"},
	}
	report := New(model, 2).Enrich(context.Background(), chunks)

	if report.Enriched != 2 || report.Skipped != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Errors[0].ChunkIndex != 1 {
		t.Fatalf("expected failure on chunk 1, got %d", report.Errors[0].ChunkIndex)
	}
	if chunks[0].Metadata["title"] != "ok" || chunks[0].Metadata["page"] != "1" {
		t.Fatalf("expected merged metadata, got %v", chunks[0].Metadata)
	}
	if _, ok := chunks[1].Metadata["title"]; ok {
		t.Fatalf("failed chunk must keep its metadata untouched")
	}
	if chunks[2].Metadata != nil {
		t.Fatalf("image chunks must not be enriched")
	}
	if model.calls.Load() != 3 {
		t.Fatalf("expected 3 model calls, got %d", model.calls.Load())
	}
}

func TestDisabledEnricherIsNoop(t *testing.T) {
	chunks := []chunk.Chunk{{Type: domain.ChunkText, Text: "x"}}
	report := New(nil, 1).Enrich(context.Background(), chunks)
	if report.Enriched != 0 || report.Skipped != 0 || chunks[0].Metadata != nil {
		t.Fatalf("expected no-op, got %+v", report)
	}
}
