// Package realtime fans chat events out to every connection watching a
// session.
package realtime

import (
	"encoding/json"
	"errors"
)

// Outbound event types.
const (
	EventTypingStatus    = "typing_status"
	EventChunk           = "chunk"
	EventMessageComplete = "message_complete"
	EventError           = "error"
)

// Inbound message types.
const (
	InboundTyping  = "typing"
	InboundMessage = "message"
)

// Event is a server-to-client frame.
type Event struct {
	Type        string   `json:"type"`
	TypingUsers []string `json:"typing_users,omitempty"`
	Content     any      `json:"content,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
}

// MarshalJSON always emits typing_users on typing_status frames, even when
// nobody is typing.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type == EventTypingStatus {
		users := e.TypingUsers
		if users == nil {
			users = []string{}
		}
		return json.Marshal(struct {
			Type        string   `json:"type"`
			TypingUsers []string `json:"typing_users"`
		}{e.Type, users})
	}
	return json.Marshal(plain(e))
}

func TypingStatus(users []string) Event {
	return Event{Type: EventTypingStatus, TypingUsers: users}
}

func Chunk(content, userID string) Event {
	return Event{Type: EventChunk, Content: content, UserID: userID}
}

func MessageComplete(content any, userID string) Event {
	return Event{Type: EventMessageComplete, Content: content, UserID: userID}
}

func Error(msg string) Event {
	return Event{Type: EventError, Content: msg}
}

// Inbound is a client-to-server frame.
type Inbound struct {
	Type     string          `json:"type"`
	IsTyping bool            `json:"is_typing"`
	Content  json.RawMessage `json:"content"`
}

var ErrUnknownInbound = errors.New("unknown inbound message type")

// Validate checks the frame type.
func (in Inbound) Validate() error {
	switch in.Type {
	case InboundTyping, InboundMessage:
		return nil
	default:
		return ErrUnknownInbound
	}
}
