package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	key := ObjectKey("u1", "doc-1", "../../etc/report.pdf")
	if key != "u1/doc-1/report.pdf" {
		t.Fatalf("unexpected key %q", key)
	}
	if err := s.Put(ctx, key, strings.NewReader("hello"), 5, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := s.Get(ctx, key)
	if err != nil || string(data) != "hello" {
		t.Fatalf("get: %q %v", data, err)
	}
	if err := s.DeletePrefix(ctx, UserPrefix("u1")); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("delete of missing object should be a no-op: %v", err)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Put(context.Background(), "../outside", strings.NewReader("x"), 1, ""); err == nil {
		t.Fatalf("expected escaping key to be rejected")
	}
}

func TestSafeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":           "report.pdf",
		`C:\Users\me\notes.md`: "notes.md",
		"  ":                   "document",
		"..":                   "document",
	}
	for in, want := range cases {
		if got := SafeFilename(in); got != want {
			t.Fatalf("SafeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
