package vectorstore

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryStore keeps points in process. It backs tests and single-node dev.
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	points map[string]Point
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = dim
	}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if err := checkDim(s.dim, p.Vector); err != nil {
			return err
		}
	}
	for _, p := range points {
		s.points[p.ID] = Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: maps.Clone(p.Payload)}
	}
	return nil
}

func (s *MemoryStore) deleteWhere(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if PayloadString(p.Payload, key) == value {
			delete(s.points, id)
		}
	}
}

func (s *MemoryStore) DeleteByDocument(_ context.Context, documentID string) error {
	s.deleteWhere("document_id", documentID)
	return nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) error {
	s.deleteWhere("user_id", userID)
	return nil
}

func (s *MemoryStore) Search(_ context.Context, userID string, vector []float32, k int) ([]Hit, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := checkDim(s.dim, vector); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0)
	for _, p := range s.points {
		if PayloadString(p.Payload, "user_id") != userID {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: cosine(vector, p.Vector), Payload: maps.Clone(p.Payload)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports how many points are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// CountByDocument reports how many points belong to documentID.
func (s *MemoryStore) CountByDocument(documentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.points {
		if PayloadString(p.Payload, "document_id") == documentID {
			n++
		}
	}
	return n
}
