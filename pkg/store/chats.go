package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ragchat/pkg/domain"
)

func (s *GormStore) CreateSession(ctx context.Context, session domain.ChatSession) error {
	now := s.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if session.ParentID != "" {
			if err := validateParent(tx, session.UserID, session.ID, session.ParentID); err != nil {
				return err
			}
		}
		model := sessionToModel(session)
		return tx.Create(&model).Error
	})
}

func (s *GormStore) GetSession(ctx context.Context, id string) (domain.ChatSession, bool, error) {
	var model ChatSessionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return domain.ChatSession{}, false, nil
		}
		return domain.ChatSession{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// UpdateSession applies title, archive and parent changes. An empty ParentID
// moves the session to the root.
func (s *GormStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) (domain.ChatSession, error) {
	var out domain.ChatSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ChatSessionModel
		if err := tx.First(&model, "id = ? AND is_deleted = ?", id, false).Error; err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		updates := map[string]any{"updated_at": s.now().UTC()}
		if update.Title != nil {
			updates["title"] = *update.Title
		}
		if update.IsArchived != nil {
			updates["is_archived"] = *update.IsArchived
		}
		if update.ParentID != nil {
			if *update.ParentID == "" {
				updates["parent_id"] = nil
			} else {
				if err := validateParent(tx, model.UserID, id, *update.ParentID); err != nil {
					return err
				}
				updates["parent_id"] = *update.ParentID
			}
		}
		if err := tx.Model(&ChatSessionModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		out = sessionFromModel(model)
		return nil
	})
	return out, err
}

// validateParent walks the ancestor chain of parentID and rejects a chain
// that reaches id.
func validateParent(tx *gorm.DB, userID, id, parentID string) error {
	seen := map[string]bool{}
	current := parentID
	for current != "" {
		if current == id || seen[current] {
			return fmt.Errorf("%w: cycle through %s", ErrInvalidParent, current)
		}
		seen[current] = true
		var parent ChatSessionModel
		if err := tx.First(&parent, "id = ?", current).Error; err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s not found", ErrInvalidParent, current)
			}
			return err
		}
		if parent.UserID != userID {
			return fmt.Errorf("%w: %s not owned by user", ErrInvalidParent, current)
		}
		if current == parentID && parent.IsDeleted {
			return fmt.Errorf("%w: %s is deleted", ErrInvalidParent, current)
		}
		if parent.ParentID == nil {
			return nil
		}
		current = *parent.ParentID
	}
	return nil
}

// SoftDeleteSession flags the session; descendants become hidden through the tree walk.
func (s *GormStore) SoftDeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&ChatSessionModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	var models []ChatSessionModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ChatSession, 0, len(models))
	for _, m := range models {
		out = append(out, sessionFromModel(m))
	}
	return out, nil
}

// LastMessages loads the newest message of every listed session in one query.
func (s *GormStore) LastMessages(ctx context.Context, sessionIDs []string) (map[string]domain.ChatMessage, error) {
	out := make(map[string]domain.ChatMessage, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	latest := s.db.Model(&ChatMessageModel{}).
		Select("session_id, MAX(created_at) AS max_created").
		Where("session_id IN ?", sessionIDs).
		Group("session_id")
	var models []ChatMessageModel
	err := s.db.WithContext(ctx).
		Table("chat_message_models AS m").
		Select("m.*").
		Joins("JOIN (?) AS latest ON m.session_id = latest.session_id AND m.created_at = latest.max_created", latest).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	for _, m := range models {
		out[m.SessionID] = messageFromModel(m)
	}
	return out, nil
}

// CreateMessage inserts the message and bumps the session's updated_at.
func (s *GormStore) CreateMessage(ctx context.Context, msg domain.ChatMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&ChatSessionModel{}).Where("id = ?", msg.SessionID).
			Update("updated_at", s.now().UTC()).Error
	})
}

// UpdateMessage rewrites the mutable response fields.
func (s *GormStore) UpdateMessage(ctx context.Context, msg domain.ChatMessage) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&ChatMessageModel{}).Where("id = ?", msg.ID).
		Updates(map[string]any{
			"response":         model.Response,
			"is_typing":        model.IsTyping,
			"source_documents": model.SourceDocuments,
			"error":            model.Error,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns up to limit most recent messages in chronological
// order. A non-positive limit returns all of them.
func (s *GormStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []ChatMessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ChatMessage, len(models))
	for i, m := range models {
		out[len(models)-1-i] = messageFromModel(m)
	}
	return out, nil
}
