package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ragchat/pkg/domain"
)

const migrateLockID int64 = 52871934

// GormStore implements Store on top of GORM.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to Postgres, takes the migration advisory lock and migrates.
func Open(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		return migrate(tx)
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// NewGormStore wraps an already opened connection and migrates the schema.
// Used with sqlite in tests and by callers that share a *gorm.DB.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// DB exposes the underlying connection so sibling components can share it.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&DocumentModel{}, &ChatSessionModel{}, &ChatMessageModel{}, &UserLLMConfigModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// PurgeUser removes all documents, sessions, messages and configs of a user.
func (s *GormStore) PurgeUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&ChatMessageModel{}, &ChatSessionModel{}, &DocumentModel{}, &UserLLMConfigModel{}} {
			if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
				return fmt.Errorf("purge %T: %w", model, err)
			}
		}
		return nil
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		UserID:       d.UserID,
		Filename:     d.Filename,
		FilePath:     d.FilePath,
		MimeType:     d.MimeType,
		SizeBytes:    d.SizeBytes,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		Attempt:      d.Attempt,
		ChunkCount:   d.ChunkCount,
		ClaimedAt:    d.ClaimedAt,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		UserID:       m.UserID,
		Filename:     m.Filename,
		FilePath:     m.FilePath,
		MimeType:     m.MimeType,
		SizeBytes:    m.SizeBytes,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		Attempt:      m.Attempt,
		ChunkCount:   m.ChunkCount,
		ClaimedAt:    m.ClaimedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func sessionToModel(s domain.ChatSession) ChatSessionModel {
	m := ChatSessionModel{
		ID:         s.ID,
		UserID:     s.UserID,
		Title:      s.Title,
		IsDeleted:  s.IsDeleted,
		IsArchived: s.IsArchived,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.ParentID != "" {
		parent := s.ParentID
		m.ParentID = &parent
	}
	return m
}

func sessionFromModel(m ChatSessionModel) domain.ChatSession {
	s := domain.ChatSession{
		ID:         m.ID,
		UserID:     m.UserID,
		Title:      m.Title,
		IsDeleted:  m.IsDeleted,
		IsArchived: m.IsArchived,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.ParentID != nil {
		s.ParentID = *m.ParentID
	}
	return s
}

func messageToModel(msg domain.ChatMessage) (ChatMessageModel, error) {
	refs := msg.SourceDocuments
	if refs == nil {
		refs = []domain.SourceRef{}
	}
	raw, err := json.Marshal(refs)
	if err != nil {
		return ChatMessageModel{}, fmt.Errorf("marshal source documents: %w", err)
	}
	return ChatMessageModel{
		ID:              msg.ID,
		SessionID:       msg.SessionID,
		UserID:          msg.UserID,
		Message:         msg.Message,
		Response:        msg.Response,
		IsTyping:        msg.IsTyping,
		SourceDocuments: raw,
		Error:           msg.Error,
		CreatedAt:       msg.CreatedAt,
	}, nil
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	refs := []domain.SourceRef{}
	if len(m.SourceDocuments) > 0 {
		_ = json.Unmarshal(m.SourceDocuments, &refs)
	}
	return domain.ChatMessage{
		ID:              m.ID,
		SessionID:       m.SessionID,
		UserID:          m.UserID,
		Message:         m.Message,
		Response:        m.Response,
		IsTyping:        m.IsTyping,
		SourceDocuments: refs,
		Error:           m.Error,
		CreatedAt:       m.CreatedAt,
	}
}

func llmConfigToModel(c domain.UserLLMConfig) UserLLMConfigModel {
	return UserLLMConfigModel{
		ID:                c.ID,
		UserID:            c.UserID,
		ModelName:         c.ModelName,
		ModelType:         string(c.ModelType),
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		MaxTokens:         c.MaxTokens,
		TopK:              c.TopK,
		TopP:              c.TopP,
		Temperature:       c.Temperature,
		RepetitionPenalty: c.RepetitionPenalty,
		Seed:              c.Seed,
		IsDefault:         c.IsDefault,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func llmConfigFromModel(m UserLLMConfigModel) domain.UserLLMConfig {
	return domain.UserLLMConfig{
		ID:                m.ID,
		UserID:            m.UserID,
		ModelName:         m.ModelName,
		ModelType:         domain.ModelType(m.ModelType),
		APIKey:            m.APIKey,
		BaseURL:           m.BaseURL,
		MaxTokens:         m.MaxTokens,
		TopK:              m.TopK,
		TopP:              m.TopP,
		Temperature:       m.Temperature,
		RepetitionPenalty: m.RepetitionPenalty,
		Seed:              m.Seed,
		IsDefault:         m.IsDefault,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

var _ Store = (*GormStore)(nil)
