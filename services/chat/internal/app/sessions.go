package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"ragchat/internal/util"
	"ragchat/pkg/domain"
	"ragchat/pkg/store"
)

const defaultSessionTitle = "New chat"

// SessionCreate is the client payload for a new session.
type SessionCreate struct {
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
}

// SessionPatch carries optional session changes. An empty ParentID moves
// the session to the root.
type SessionPatch struct {
	Title      *string `json:"title,omitempty"`
	ParentID   *string `json:"parentId,omitempty"`
	IsArchived *bool   `json:"isArchived,omitempty"`
}

// CreateSession starts a conversation, optionally nested under parentID.
func (a *App) CreateSession(ctx context.Context, userID string, req SessionCreate) (domain.ChatSession, error) {
	parentID := strings.TrimSpace(req.ParentID)
	if parentID != "" {
		if _, err := a.ownedSession(ctx, userID, parentID); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return domain.ChatSession{}, ErrInvalidParent
			}
			return domain.ChatSession{}, err
		}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultSessionTitle
	}
	now := time.Now().UTC()
	session := domain.ChatSession{
		ID:        util.NewID(),
		UserID:    userID,
		Title:     title,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateSession(ctx, session); err != nil {
		return domain.ChatSession{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns the user's live sessions, most recently active first.
func (a *App) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	all, err := a.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return store.LiveSessions(all), nil
}

// SessionTree returns the user's session forest with each node's last message.
func (a *App) SessionTree(ctx context.Context, userID string) ([]*domain.SessionNode, error) {
	all, err := a.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	live := store.LiveSessions(all)
	ids := make([]string, 0, len(live))
	for _, s := range live {
		ids = append(ids, s.ID)
	}
	last, err := a.store.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	return store.BuildSessionTree(all, last), nil
}

// UpdateSession applies patch to a session owned by userID.
func (a *App) UpdateSession(ctx context.Context, userID, id string, patch SessionPatch) (domain.ChatSession, error) {
	if _, err := a.ownedSession(ctx, userID, id); err != nil {
		return domain.ChatSession{}, err
	}
	update := store.SessionUpdate{IsArchived: patch.IsArchived}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			title = defaultSessionTitle
		}
		update.Title = &title
	}
	if patch.ParentID != nil {
		parentID := strings.TrimSpace(*patch.ParentID)
		if parentID != "" {
			if _, err := a.ownedSession(ctx, userID, parentID); err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					return domain.ChatSession{}, ErrInvalidParent
				}
				return domain.ChatSession{}, err
			}
		}
		update.ParentID = &parentID
	}
	session, err := a.store.UpdateSession(ctx, id, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidParent):
			return domain.ChatSession{}, ErrInvalidParent
		case errors.Is(err, store.ErrNotFound):
			return domain.ChatSession{}, ErrSessionNotFound
		}
		return domain.ChatSession{}, fmt.Errorf("update session: %w", err)
	}
	return session, nil
}

// DeleteSession soft-deletes a session. Its descendants disappear from the
// tree with it.
func (a *App) DeleteSession(ctx context.Context, userID, id string) error {
	if _, err := a.ownedSession(ctx, userID, id); err != nil {
		return err
	}
	if err := a.store.SoftDeleteSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}
	util.Logger(ctx).Info("chat session deleted", "session_id", id, "user_id", userID)
	return nil
}

// History lists a session's messages in chronological order.
func (a *App) History(ctx context.Context, userID, id string) ([]domain.ChatMessage, error) {
	if _, err := a.ownedSession(ctx, userID, id); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// ownedSession loads a live session of userID. Foreign and deleted sessions,
// and sessions under a deleted or missing ancestor, are reported as missing.
func (a *App) ownedSession(ctx context.Context, userID, id string) (domain.ChatSession, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ChatSession{}, ErrSessionNotFound
	}
	session, ok, err := a.store.GetSession(ctx, id)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("load session: %w", err)
	}
	if !ok || session.UserID != userID || session.IsDeleted {
		return domain.ChatSession{}, ErrSessionNotFound
	}
	seen := map[string]bool{session.ID: true}
	for parentID := session.ParentID; parentID != ""; {
		if seen[parentID] {
			return domain.ChatSession{}, ErrSessionNotFound
		}
		seen[parentID] = true
		parent, ok, err := a.store.GetSession(ctx, parentID)
		if err != nil {
			return domain.ChatSession{}, fmt.Errorf("load session: %w", err)
		}
		if !ok || parent.UserID != userID || parent.IsDeleted {
			return domain.ChatSession{}, ErrSessionNotFound
		}
		parentID = parent.ParentID
	}
	return session, nil
}

// retitle names a session still carrying the default title after its first
// question.
func (a *App) retitle(ctx context.Context, session domain.ChatSession, question string) {
	if session.Title != defaultSessionTitle {
		return
	}
	title := generateSessionTitle(question)
	if title == defaultSessionTitle {
		return
	}
	if _, err := a.store.UpdateSession(ctx, session.ID, store.SessionUpdate{Title: &title}); err != nil {
		util.Logger(ctx).Warn("session retitle failed", "session_id", session.ID, "err", err)
	}
}

var titlePrefixes = []string{
	"can you please", "could you please", "can you", "could you", "please",
	"i want to know", "i'd like to know", "tell me", "help me", "about",
}

func generateSessionTitle(question string) string {
	text := strings.TrimSpace(strings.ReplaceAll(question, "\n", " "))
	if text == "" {
		return defaultSessionTitle
	}
	lower := strings.ToLower(text)
	for _, prefix := range titlePrefixes {
		if strings.HasPrefix(lower, prefix+" ") {
			text = strings.TrimSpace(text[len(prefix):])
			break
		}
	}
	text = strings.TrimSpace(strings.TrimRight(text, "?!. "))
	if text == "" {
		return defaultSessionTitle
	}
	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])
	if len(runes) > 40 {
		return strings.TrimSpace(string(runes[:40])) + "…"
	}
	return string(runes)
}
