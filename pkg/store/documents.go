package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ragchat/pkg/domain"
)

// CreateDocument inserts a new document row.
func (s *GormStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	now := s.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.StatusQueued
	}
	if doc.Attempt == 0 {
		doc.Attempt = 1
	}
	model := documentToModel(doc)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetDocument fetches a document by id.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *GormStore) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Document, 0, len(models))
	for _, m := range models {
		out = append(out, documentFromModel(m))
	}
	return out, nil
}

func (s *GormStore) ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ?", id).
		Where("status = ? OR (status = ? AND claimed_at < ?)", domain.StatusQueued, domain.StatusProcessing, staleBefore.UTC()).
		Updates(map[string]any{
			"status":     string(domain.StatusProcessing),
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim document: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompleteDocument is only valid from processing.
func (s *GormStore) CompleteDocument(ctx context.Context, id string, chunkCount int) error {
	return s.transition(ctx, id, []domain.DocumentStatus{domain.StatusProcessing}, map[string]any{
		"status":        string(domain.StatusCompleted),
		"chunk_count":   chunkCount,
		"error_message": "",
		"claimed_at":    nil,
	})
}

// FailDocument is valid from queued (dispatch failure) and processing.
func (s *GormStore) FailDocument(ctx context.Context, id, message string) error {
	return s.transition(ctx, id, []domain.DocumentStatus{domain.StatusQueued, domain.StatusProcessing}, map[string]any{
		"status":        string(domain.StatusFailed),
		"error_message": message,
		"claimed_at":    nil,
	})
}

func (s *GormStore) ResetDocument(ctx context.Context, id string) (domain.Document, error) {
	err := s.transition(ctx, id, []domain.DocumentStatus{domain.StatusCompleted, domain.StatusFailed}, map[string]any{
		"status":        string(domain.StatusQueued),
		"attempt":       gorm.Expr("attempt + 1"),
		"error_message": "",
		"chunk_count":   0,
		"claimed_at":    nil,
	})
	if err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := s.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// DeleteDocument removes the row; vectors and objects are cleaned by callers.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&DocumentModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) transition(ctx context.Context, id string, from []domain.DocumentStatus, updates map[string]any) error {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	updates["updated_at"] = s.now().UTC()
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update document %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	doc, ok, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return fmt.Errorf("%w: document %s is %s", ErrInvalidTransition, id, doc.Status)
}
