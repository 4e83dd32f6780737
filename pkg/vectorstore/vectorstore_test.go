package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func point(id, doc, user string, v ...float32) Point {
	return Point{ID: id, Vector: v, Payload: map[string]any{"document_id": doc, "user_id": user, "chunk_index": int64(0)}}
}

func TestMemoryStoreSearchIsUserScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.EnsureCollection(ctx, 2); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	err := s.Upsert(ctx, []Point{
		point("a", "doc-1", "alice", 1, 0),
		point("b", "doc-1", "alice", 0.7, 0.7),
		point("c", "doc-2", "bob", 1, 0),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := s.Search(ctx, "alice", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "b" {
		t.Fatalf("unexpected hits %+v", hits)
	}
	for _, h := range hits {
		if PayloadString(h.Payload, "user_id") != "alice" {
			t.Fatalf("leaked foreign point %+v", h)
		}
	}
	if _, err := s.Search(ctx, "", []float32{1, 0}, 5); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
}

func TestMemoryStoreRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.EnsureCollection(ctx, 3)
	if err := s.Upsert(ctx, []Point{point("a", "d", "u", 1, 0)}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("a rejected batch must not be partially stored")
	}
}

func TestMemoryStoreDeletes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.EnsureCollection(ctx, 2)
	_ = s.Upsert(ctx, []Point{
		point("a", "doc-1", "alice", 1, 0),
		point("b", "doc-2", "alice", 1, 0),
		point("c", "doc-3", "bob", 1, 0),
	})
	_ = s.DeleteByDocument(ctx, "doc-1")
	if s.CountByDocument("doc-1") != 0 || s.Len() != 2 {
		t.Fatalf("expected doc-1 removed, %d left", s.Len())
	}
	_ = s.DeleteByUser(ctx, "alice")
	if s.Len() != 1 {
		t.Fatalf("expected only bob's point left, got %d", s.Len())
	}
}

func TestPGVectorSearchQueryFiltersByUser(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{DryRun: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := NewPGVectorStore(db, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	var rows []scoredRecord
	stmt := s.searchQuery(context.Background(), "alice", []float32{1, 2}, 3).Find(&rows).Statement
	sql := stmt.SQL.String()
	for _, want := range []string{"embedding_records", "user_id = ?", "ORDER BY embedding <=> ?", "LIMIT"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("expected %q in %s", want, sql)
		}
	}
	if _, err := NewPGVectorStore(db, "bad;name"); err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
}

func TestParseHostPort(t *testing.T) {
	cases := []struct {
		in   string
		host string
		port int
	}{
		{"qdrant:6334", "qdrant", 6334},
		{"", "localhost", 6334},
		{"qdrant", "qdrant", 6334},
		{"qdrant:x", "qdrant", 6334},
	}
	for _, tc := range cases {
		host, port := parseHostPort(tc.in, "localhost", 6334)
		if host != tc.host || port != tc.port {
			t.Fatalf("%q: got %s:%d", tc.in, host, port)
		}
	}
}

func TestMissingCollection(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"qdrant not found", fmt.Errorf("qdrant query: %w", status.Error(codes.NotFound, "Collection `ragchat_chunks` doesn't exist!")), true},
		{"postgres undefined table", fmt.Errorf("search: %w", &pgconn.PgError{Code: "42P01", Message: `relation "embedding_records" does not exist`}), true},
		{"postgres other", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"sqlite", errors.New("no such table: embedding_records"), true},
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := missingCollection(tc.err); got != tc.want {
				t.Fatalf("missingCollection(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPGVectorDeleteBeforeTableExists(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "vectors.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := NewPGVectorStore(db, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := s.DeleteByDocument(ctx, "never-indexed"); err != nil {
		t.Fatalf("delete by document: %v", err)
	}
	if err := s.DeleteByUser(ctx, "u1"); err != nil {
		t.Fatalf("delete by user: %v", err)
	}
}
