package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req oaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 || req.Dimensions != 3 {
			t.Fatalf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1,0]},{"index":0,"embedding":[1,0,0]}]}`)
	}))
	defer srv.Close()

	e, err := NewEmbedder(Config{Provider: "openai", Model: "text-embedding-3-small", BaseURL: srv.URL, Dimensions: 3})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	out, err := e.(BatchEmbedder).EmbedTexts(context.Background(), []string{"a", "b"}, TaskDocument)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if out[0][0] != 1 || out[1][1] != 1 {
		t.Fatalf("unexpected order %v", out)
	}
	if e.Dimensions() != 3 {
		t.Fatalf("unexpected dimensions %d", e.Dimensions())
	}
}

func TestOllamaEmbedderFallsBackToLegacyEndpoint(t *testing.T) {
	var legacyCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			http.NotFound(w, r)
		case "/api/embeddings":
			legacyCalls++
			fmt.Fprint(w, `{"embedding":[0.5,0.5]}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	e, err := NewEmbedder(Config{Provider: "ollama", Model: "nomic-embed-text", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	out, err := e.(BatchEmbedder).EmbedTexts(context.Background(), []string{"a", "b"}, "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(out) != 2 || legacyCalls != 2 {
		t.Fatalf("expected two legacy calls, got %d (%d vectors)", legacyCalls, len(out))
	}
}

func TestGeminiEmbedderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/text-embedding-004:batchEmbedContents") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req batchEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Requests) != 2 || req.Requests[0].TaskType != TaskQuery || req.Requests[0].Model != "models/text-embedding-004" {
			t.Fatalf("unexpected batch %+v", req)
		}
		fmt.Fprint(w, `{"embeddings":[{"values":[1,2]},{"values":[3,4]}]}`)
	}))
	defer srv.Close()

	e, err := NewEmbedder(Config{Provider: "gemini", Model: "models/text-embedding-004", BaseURL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	out, err := e.(BatchEmbedder).EmbedTexts(context.Background(), []string{"a", "b"}, TaskQuery)
	if err != nil || len(out) != 2 || out[1][0] != 3 {
		t.Fatalf("unexpected result %v %v", out, err)
	}
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	if _, err := NewEmbedder(Config{Provider: "cohere", Model: "x"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := NewEmbedder(Config{Provider: "ollama"}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}
