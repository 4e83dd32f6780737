package vectorstore

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Config selects and addresses a vector backend.
type Config struct {
	Backend string // qdrant (default), pgvector or memory
	Qdrant  QdrantConfig
	// Table is the pgvector table; db must be set for that backend.
	Table string
}

// Open builds the configured backend. The returned close func is never nil.
func Open(cfg Config, db *gorm.DB) (Store, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "qdrant":
		s, err := NewQdrantStore(cfg.Qdrant)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "pgvector":
		if db == nil {
			return nil, noop, errors.New("pgvector backend requires a database connection")
		}
		s, err := NewPGVectorStore(db, cfg.Table)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case "memory":
		return NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
