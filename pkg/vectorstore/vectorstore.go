// Package vectorstore persists chunk embeddings and answers similarity
// queries scoped to one user.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the fixed collection (or table) every document shares.
const DefaultCollection = "ragchat_chunks"

var (
	ErrUserRequired      = errors.New("vector search requires a user id")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Point is one chunk embedding. ID is deterministic per document and chunk.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is a scored search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is implemented by every vector backend.
type Store interface {
	// EnsureCollection creates the collection with cosine distance when it
	// is absent. A concurrent create is not an error.
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, points []Point) error
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteByUser(ctx context.Context, userID string) error
	// Search returns the k nearest points owned by userID.
	Search(ctx context.Context, userID string, vector []float32, k int) ([]Hit, error)
}

// missingCollection reports whether err means the collection or table has not
// been created yet. Nothing has been indexed then, so searches are empty and
// deletes have nothing to remove.
func missingCollection(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "no such table")
}

func checkDim(want int, v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if want > 0 && len(v) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), want)
	}
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// PayloadString reads a string payload field.
func PayloadString(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// PayloadInt reads an integer payload field stored as any numeric type.
func PayloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}
