package store

import (
	"context"
	"errors"
	"time"

	"ragchat/pkg/domain"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a document status change is not allowed
	// from its current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidParent is returned when a session parent is missing, deleted,
	// foreign or would create a cycle.
	ErrInvalidParent = errors.New("invalid parent session")
)

// DocumentStore persists documents and drives their lifecycle transitions.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	ListDocuments(ctx context.Context, userID string) ([]domain.Document, error)
	// ClaimDocument moves a queued document (or one whose processing claim is
	// older than staleBefore) to processing in a single conditional update.
	// It reports whether the caller won the claim.
	ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	CompleteDocument(ctx context.Context, id string, chunkCount int) error
	FailDocument(ctx context.Context, id, message string) error
	// ResetDocument returns a terminal document to queued for a fresh attempt.
	ResetDocument(ctx context.Context, id string) (domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// SessionUpdate carries optional changes to a chat session.
type SessionUpdate struct {
	Title      *string
	ParentID   *string
	IsArchived *bool
}

// ChatStore persists chat sessions and messages.
type ChatStore interface {
	CreateSession(ctx context.Context, session domain.ChatSession) error
	GetSession(ctx context.Context, id string) (domain.ChatSession, bool, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) (domain.ChatSession, error)
	SoftDeleteSession(ctx context.Context, id string) error
	// ListSessions returns every session of the user, deleted ones included,
	// so callers can evaluate ancestor chains.
	ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error)
	LastMessages(ctx context.Context, sessionIDs []string) (map[string]domain.ChatMessage, error)
	CreateMessage(ctx context.Context, msg domain.ChatMessage) error
	UpdateMessage(ctx context.Context, msg domain.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}

// LLMConfigStore persists user model configurations.
type LLMConfigStore interface {
	CreateLLMConfig(ctx context.Context, cfg domain.UserLLMConfig) error
	GetLLMConfig(ctx context.Context, id string) (domain.UserLLMConfig, bool, error)
	ListLLMConfigs(ctx context.Context, userID string) ([]domain.UserLLMConfig, error)
	UpdateLLMConfig(ctx context.Context, cfg domain.UserLLMConfig) error
	SetDefaultLLMConfig(ctx context.Context, userID, id string) error
	DeleteLLMConfig(ctx context.Context, userID, id string) error
	// DefaultLLMConfig returns the flagged default, else the oldest config.
	DefaultLLMConfig(ctx context.Context, userID string) (domain.UserLLMConfig, bool, error)
}

// Store is the full relational surface.
type Store interface {
	DocumentStore
	ChatStore
	LLMConfigStore
	// PurgeUser deletes every row owned by userID.
	PurgeUser(ctx context.Context, userID string) error
}
