package domain

import "time"

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no worker will move the document any further
// without a deliberate reprocess.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is an uploaded file and its ingestion state.
type Document struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Filename     string         `json:"filename"`
	FilePath     string         `json:"filePath"`
	MimeType     string         `json:"mimeType"`
	SizeBytes    int64          `json:"sizeBytes"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Attempt      int            `json:"attempt"`
	ChunkCount   int            `json:"chunkCount"`
	ClaimedAt    *time.Time     `json:"claimedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// ChunkType tags what a chunk was derived from.
type ChunkType string

const (
	ChunkText  ChunkType = "text"
	ChunkImage ChunkType = "image"
)

// ChatSession is one conversation; sessions nest through ParentID.
type ChatSession struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Title      string    `json:"title"`
	ParentID   string    `json:"parentId,omitempty"`
	IsDeleted  bool      `json:"isDeleted"`
	IsArchived bool      `json:"isArchived"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SessionNode is the materialized tree view of a session.
type SessionNode struct {
	ChatSession
	LastMessage *ChatMessage   `json:"lastMessage,omitempty"`
	Children    []*SessionNode `json:"children"`
}

// SourceRef points at a retrieved chunk that grounded a response.
type SourceRef struct {
	DocumentID string  `json:"documentId"`
	Filename   string  `json:"filename,omitempty"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float32 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// ChatMessage stores one user turn and the assistant response to it.
// IsTyping marks a response still being generated.
type ChatMessage struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"sessionId"`
	UserID          string      `json:"userId"`
	Message         string      `json:"message"`
	Response        string      `json:"response,omitempty"`
	IsTyping        bool        `json:"isTyping"`
	SourceDocuments []SourceRef `json:"sourceDocuments"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// MessageCreate is the client payload for a new chat turn.
type MessageCreate struct {
	Message      string `json:"message"`
	ImageBase64  string `json:"imageBase64,omitempty"`
	ImageMime    string `json:"imageMimeType,omitempty"`
	UseDocuments *bool  `json:"useDocuments,omitempty"`
}

// ModelType is the provider tag of an LLM configuration.
type ModelType string

const (
	ModelOpenAI      ModelType = "openai"
	ModelGemini      ModelType = "gemini"
	ModelMistral     ModelType = "mistral"
	ModelClaude      ModelType = "claude"
	ModelLlama       ModelType = "llama"
	ModelOpenRouter  ModelType = "openrouter"
	ModelHuggingFace ModelType = "huggingface"
	ModelCustom      ModelType = "custom"
)

// Valid reports whether t is one of the enumerated tags.
func (t ModelType) Valid() bool {
	switch t {
	case ModelOpenAI, ModelGemini, ModelMistral, ModelClaude, ModelLlama,
		ModelOpenRouter, ModelHuggingFace, ModelCustom:
		return true
	}
	return false
}

// UserLLMConfig is a user's saved model selection. At most one per user has
// IsDefault set.
type UserLLMConfig struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	ModelName         string    `json:"modelName"`
	ModelType         ModelType `json:"modelType"`
	APIKey            string    `json:"-"`
	BaseURL           string    `json:"baseUrl,omitempty"`
	MaxTokens         *int      `json:"maxTokens,omitempty"`
	TopK              *int      `json:"topK,omitempty"`
	TopP              *float64  `json:"topP,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	RepetitionPenalty *float64  `json:"repetitionPenalty,omitempty"`
	Seed              *int64    `json:"seed,omitempty"`
	IsDefault         bool      `json:"isDefault"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// HasAPIKey is exposed to clients instead of the key itself.
func (c UserLLMConfig) HasAPIKey() bool {
	return c.APIKey != ""
}
