// Package llm resolves user model configurations into callable chat models.
package llm

import (
	"context"
	"encoding/base64"

	"ragchat/pkg/domain"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn. vision holds a provider-shaped multimodal
// payload set by FormatVision and replaces Content on the wire.
type Message struct {
	Role    Role
	Content string
	vision  any
}

func System(text string) Message    { return Message{Role: RoleSystem, Content: text} }
func User(text string) Message      { return Message{Role: RoleUser, Content: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// IsVision reports whether the message carries an image payload.
func (m Message) IsVision() bool { return m.vision != nil }

// Image is an inline image attachment.
type Image struct {
	Data     []byte
	MimeType string
}

func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

func (i Image) mime() string {
	if i.MimeType == "" {
		return "image/png"
	}
	return i.MimeType
}

func (i Image) DataURL() string {
	return "data:" + i.mime() + ";base64," + i.Base64()
}

// Capabilities are the optional features a model declares.
type Capabilities struct {
	WebSearch  bool
	Vision     bool
	VisionOnly bool
}

// Params are sampling parameters; nil fields are left to the provider.
type Params struct {
	MaxTokens         *int
	TopK              *int
	TopP              *float64
	Temperature       *float64
	RepetitionPenalty *float64
	Seed              *int64
}

// Model is a resolved provider binding. Stream is single consumption:
// calling Stream again issues a new provider request.
type Model interface {
	Provider() domain.ModelType
	Name() string
	Capabilities() Capabilities
	Invoke(ctx context.Context, messages []Message) (string, error)
	Stream(ctx context.Context, messages []Message) (*Stream, error)
	FormatVision(text string, img Image) (Message, error)
}
