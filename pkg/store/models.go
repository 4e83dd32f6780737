package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Filename     string `gorm:"not null"`
	FilePath     string `gorm:"not null"`
	MimeType     string `gorm:"not null"`
	SizeBytes    int64
	Status       string `gorm:"not null;index"`
	ErrorMessage string
	Attempt      int `gorm:"not null;default:1"`
	ChunkCount   int
	ClaimedAt    *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

type ChatSessionModel struct {
	ID         string  `gorm:"primaryKey"`
	UserID     string  `gorm:"not null;index"`
	Title      string  `gorm:"not null"`
	ParentID   *string `gorm:"index"`
	IsDeleted  bool    `gorm:"not null;default:false"`
	IsArchived bool    `gorm:"not null;default:false"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

type ChatMessageModel struct {
	ID              string         `gorm:"primaryKey"`
	SessionID       string         `gorm:"not null;index:idx_message_session_created,priority:1"`
	UserID          string         `gorm:"not null;index"`
	Message         string         `gorm:"type:text;not null"`
	Response        string         `gorm:"type:text"`
	IsTyping        bool           `gorm:"not null;default:false"`
	SourceDocuments datatypes.JSON
	Error           string
	CreatedAt       time.Time `gorm:"not null;index:idx_message_session_created,priority:2"`
}

type UserLLMConfigModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"not null;index;uniqueIndex:idx_llm_configs_single_default,where:is_default"`
	ModelName         string `gorm:"not null"`
	ModelType         string `gorm:"not null"`
	APIKey            string
	BaseURL           string
	MaxTokens         *int
	TopK              *int
	TopP              *float64
	Temperature       *float64
	RepetitionPenalty *float64
	Seed              *int64
	IsDefault         bool      `gorm:"not null;default:false"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}
