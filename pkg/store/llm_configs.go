package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragchat/pkg/domain"
)

// CreateLLMConfig inserts cfg; when flagged default, siblings are cleared in
// the same transaction.
func (s *GormStore) CreateLLMConfig(ctx context.Context, cfg domain.UserLLMConfig) error {
	now := s.now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	model := llmConfigToModel(cfg)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cfg.IsDefault {
			if err := lockConfigs(tx, cfg.UserID); err != nil {
				return err
			}
			if err := clearDefaults(tx, cfg.UserID); err != nil {
				return err
			}
		}
		return tx.Create(&model).Error
	})
}

func (s *GormStore) GetLLMConfig(ctx context.Context, id string) (domain.UserLLMConfig, bool, error) {
	var model UserLLMConfigModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return domain.UserLLMConfig{}, false, nil
		}
		return domain.UserLLMConfig{}, false, err
	}
	return llmConfigFromModel(model), true, nil
}

func (s *GormStore) ListLLMConfigs(ctx context.Context, userID string) ([]domain.UserLLMConfig, error) {
	var models []UserLLMConfigModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UserLLMConfig, 0, len(models))
	for _, m := range models {
		out = append(out, llmConfigFromModel(m))
	}
	return out, nil
}

// UpdateLLMConfig saves every mutable field of cfg.
func (s *GormStore) UpdateLLMConfig(ctx context.Context, cfg domain.UserLLMConfig) error {
	cfg.UpdatedAt = s.now().UTC()
	model := llmConfigToModel(cfg)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cfg.IsDefault {
			if err := lockConfigs(tx, cfg.UserID); err != nil {
				return err
			}
			if err := clearDefaults(tx, cfg.UserID); err != nil {
				return err
			}
		}
		res := tx.Model(&UserLLMConfigModel{}).
			Where("id = ? AND user_id = ?", cfg.ID, cfg.UserID).
			Select("model_name", "model_type", "api_key", "base_url", "max_tokens", "top_k", "top_p",
				"temperature", "repetition_penalty", "seed", "is_default", "updated_at").
			Updates(&model)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetDefaultLLMConfig clears the user's other defaults and flags id.
func (s *GormStore) SetDefaultLLMConfig(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserLLMConfigModel{}).Where("id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := lockConfigs(tx, userID); err != nil {
			return err
		}
		if err := clearDefaults(tx, userID); err != nil {
			return err
		}
		return tx.Model(&UserLLMConfigModel{}).Where("id = ?", id).
			Updates(map[string]any{"is_default": true, "updated_at": s.now().UTC()}).Error
	})
}

func (s *GormStore) DeleteLLMConfig(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&UserLLMConfigModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DefaultLLMConfig(ctx context.Context, userID string) (domain.UserLLMConfig, bool, error) {
	var model UserLLMConfigModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default desc").
		Order("created_at asc").
		First(&model).Error
	if err != nil {
		if isNotFound(err) {
			return domain.UserLLMConfig{}, false, nil
		}
		return domain.UserLLMConfig{}, false, err
	}
	return llmConfigFromModel(model), true, nil
}

// lockConfigs row-locks the user's configs so concurrent default switches
// serialize. SQLite ignores the clause and serializes writers anyway.
func lockConfigs(tx *gorm.DB, userID string) error {
	var ids []string
	return tx.Model(&UserLLMConfigModel{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Pluck("id", &ids).Error
}

func clearDefaults(tx *gorm.DB, userID string) error {
	return tx.Model(&UserLLMConfigModel{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}
