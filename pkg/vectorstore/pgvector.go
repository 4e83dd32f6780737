package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// EmbeddingRecord is one row of the pgvector table.
type EmbeddingRecord struct {
	ID         string          `gorm:"primaryKey;type:uuid"`
	DocumentID string          `gorm:"index;not null"`
	UserID     string          `gorm:"index;not null"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
	Payload    datatypes.JSON
}

type scoredRecord struct {
	EmbeddingRecord
	Score float32
}

// PGVectorStore keeps embeddings in Postgres next to the relational data.
type PGVectorStore struct {
	db    *gorm.DB
	table string
	dim   int
}

func NewPGVectorStore(db *gorm.DB, table string) (*PGVectorStore, error) {
	if table == "" {
		table = "embedding_records"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid embedding table name %q", table)
	}
	return &PGVectorStore{db: db, table: table}, nil
}

// EnsureCollection creates the table with a fixed-width vector column and
// an HNSW cosine index.
func (s *PGVectorStore) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrDimensionMismatch)
	}
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			document_id text NOT NULL,
			user_id text NOT NULL,
			embedding vector(%d) NOT NULL,
			payload jsonb
		)`, s.table, dim),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_document ON %s (document_id)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (user_id)", s.table, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops)", s.table, s.table),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil && !alreadyExists(err) {
				return fmt.Errorf("ensure embedding table: %w", err)
			}
		}
		s.dim = dim
		return nil
	})
}

func (s *PGVectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	records := make([]EmbeddingRecord, 0, len(points))
	for _, p := range points {
		if err := checkDim(s.dim, p.Vector); err != nil {
			return err
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		records = append(records, EmbeddingRecord{
			ID:         p.ID,
			DocumentID: PayloadString(p.Payload, "document_id"),
			UserID:     PayloadString(p.Payload, "user_id"),
			Embedding:  pgvector.NewVector(p.Vector),
			Payload:    datatypes.JSON(payload),
		})
	}
	return s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document_id", "user_id", "embedding", "payload"}),
	}).CreateInBatches(&records, 100).Error
}

func (s *PGVectorStore) deleteWhere(ctx context.Context, column, value string) error {
	err := s.db.WithContext(ctx).Table(s.table).Where(column+" = ?", value).Delete(&EmbeddingRecord{}).Error
	if missingCollection(err) {
		return nil
	}
	return err
}

func (s *PGVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.deleteWhere(ctx, "document_id", documentID)
}

func (s *PGVectorStore) DeleteByUser(ctx context.Context, userID string) error {
	return s.deleteWhere(ctx, "user_id", userID)
}

func (s *PGVectorStore) searchQuery(ctx context.Context, userID string, vector []float32, k int) *gorm.DB {
	vec := pgvector.NewVector(vector)
	return s.db.WithContext(ctx).Table(s.table).
		Select("*, 1 - (embedding <=> ?) AS score", vec).
		Where("user_id = ?", userID).
		Order(clause.Expr{SQL: "embedding <=> ?", Vars: []any{vec}}).
		Limit(k)
}

func (s *PGVectorStore) Search(ctx context.Context, userID string, vector []float32, k int) ([]Hit, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	if err := checkDim(s.dim, vector); err != nil {
		return nil, err
	}
	var rows []scoredRecord
	if err := s.searchQuery(ctx, userID, vector, k).Find(&rows).Error; err != nil {
		if missingCollection(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		payload := map[string]any{}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		hits = append(hits, Hit{ID: r.ID, Score: r.Score, Payload: payload})
	}
	return hits, nil
}
