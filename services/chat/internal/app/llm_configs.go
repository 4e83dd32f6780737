package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/util"
	"ragchat/pkg/domain"
	"ragchat/pkg/llm"
	"ragchat/pkg/store"
)

// LLMConfigInput is the create and patch payload of a model configuration.
// Nil fields are left unchanged on patch.
type LLMConfigInput struct {
	ModelName         *string           `json:"modelName,omitempty"`
	ModelType         *domain.ModelType `json:"modelType,omitempty"`
	APIKey            *string           `json:"apiKey,omitempty"`
	BaseURL           *string           `json:"baseUrl,omitempty"`
	MaxTokens         *int              `json:"maxTokens,omitempty"`
	TopK              *int              `json:"topK,omitempty"`
	TopP              *float64          `json:"topP,omitempty"`
	Temperature       *float64          `json:"temperature,omitempty"`
	RepetitionPenalty *float64          `json:"repetitionPenalty,omitempty"`
	Seed              *int64            `json:"seed,omitempty"`
	IsDefault         *bool             `json:"isDefault,omitempty"`
}

func (in LLMConfigInput) apply(cfg *domain.UserLLMConfig) {
	if in.ModelName != nil {
		cfg.ModelName = strings.TrimSpace(*in.ModelName)
	}
	if in.ModelType != nil {
		cfg.ModelType = domain.ModelType(strings.ToLower(strings.TrimSpace(string(*in.ModelType))))
	}
	if in.APIKey != nil {
		cfg.APIKey = strings.TrimSpace(*in.APIKey)
	}
	if in.BaseURL != nil {
		cfg.BaseURL = strings.TrimSpace(*in.BaseURL)
	}
	if in.MaxTokens != nil {
		cfg.MaxTokens = in.MaxTokens
	}
	if in.TopK != nil {
		cfg.TopK = in.TopK
	}
	if in.TopP != nil {
		cfg.TopP = in.TopP
	}
	if in.Temperature != nil {
		cfg.Temperature = in.Temperature
	}
	if in.RepetitionPenalty != nil {
		cfg.RepetitionPenalty = in.RepetitionPenalty
	}
	if in.Seed != nil {
		cfg.Seed = in.Seed
	}
	if in.IsDefault != nil {
		cfg.IsDefault = *in.IsDefault
	}
}

func validateLLMConfig(cfg domain.UserLLMConfig) error {
	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s", ErrInvalidLLMConfig, msg)
	}
	switch {
	case !cfg.ModelType.Valid():
		return invalid(fmt.Sprintf("unsupported model type %q", cfg.ModelType))
	case cfg.ModelName == "":
		return invalid("modelName is required")
	case cfg.ModelType == domain.ModelCustom && cfg.BaseURL == "":
		return invalid("baseUrl is required for custom models")
	case cfg.MaxTokens != nil && *cfg.MaxTokens <= 0:
		return invalid("maxTokens must be positive")
	case cfg.TopK != nil && *cfg.TopK <= 0:
		return invalid("topK must be positive")
	case cfg.TopP != nil && (*cfg.TopP < 0 || *cfg.TopP > 1):
		return invalid("topP must be between 0 and 1")
	case cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 2):
		return invalid("temperature must be between 0 and 2")
	case cfg.RepetitionPenalty != nil && *cfg.RepetitionPenalty <= 0:
		return invalid("repetitionPenalty must be positive")
	}
	return nil
}

// CreateLLMConfig saves a new model configuration. Flagging it default clears
// the flag on the user's other configurations.
func (a *App) CreateLLMConfig(ctx context.Context, userID string, in LLMConfigInput) (domain.UserLLMConfig, error) {
	now := time.Now().UTC()
	cfg := domain.UserLLMConfig{ID: util.NewID(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	in.apply(&cfg)
	if err := validateLLMConfig(cfg); err != nil {
		return domain.UserLLMConfig{}, err
	}
	if err := a.store.CreateLLMConfig(ctx, cfg); err != nil {
		return domain.UserLLMConfig{}, fmt.Errorf("create llm config: %w", err)
	}
	return cfg, nil
}

// ListLLMConfigs returns the user's configurations.
func (a *App) ListLLMConfigs(ctx context.Context, userID string) ([]domain.UserLLMConfig, error) {
	return a.store.ListLLMConfigs(ctx, userID)
}

// GetLLMConfig returns a configuration owned by userID.
func (a *App) GetLLMConfig(ctx context.Context, userID, id string) (domain.UserLLMConfig, error) {
	cfg, ok, err := a.store.GetLLMConfig(ctx, id)
	if err != nil {
		return domain.UserLLMConfig{}, err
	}
	if !ok || cfg.UserID != userID {
		return domain.UserLLMConfig{}, ErrLLMConfigNotFound
	}
	return cfg, nil
}

// UpdateLLMConfig applies in to an owned configuration.
func (a *App) UpdateLLMConfig(ctx context.Context, userID, id string, in LLMConfigInput) (domain.UserLLMConfig, error) {
	cfg, err := a.GetLLMConfig(ctx, userID, id)
	if err != nil {
		return domain.UserLLMConfig{}, err
	}
	in.apply(&cfg)
	if err := validateLLMConfig(cfg); err != nil {
		return domain.UserLLMConfig{}, err
	}
	if err := a.store.UpdateLLMConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserLLMConfig{}, ErrLLMConfigNotFound
		}
		return domain.UserLLMConfig{}, fmt.Errorf("update llm config: %w", err)
	}
	return a.GetLLMConfig(ctx, userID, id)
}

// SetDefaultLLMConfig makes id the user's only default configuration.
func (a *App) SetDefaultLLMConfig(ctx context.Context, userID, id string) (domain.UserLLMConfig, error) {
	if err := a.store.SetDefaultLLMConfig(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserLLMConfig{}, ErrLLMConfigNotFound
		}
		return domain.UserLLMConfig{}, err
	}
	return a.GetLLMConfig(ctx, userID, id)
}

// DefaultLLMConfig returns the configuration used for generation: the
// flagged default, else the oldest one.
func (a *App) DefaultLLMConfig(ctx context.Context, userID string) (domain.UserLLMConfig, error) {
	cfg, ok, err := a.store.DefaultLLMConfig(ctx, userID)
	if err != nil {
		return domain.UserLLMConfig{}, err
	}
	if !ok {
		return domain.UserLLMConfig{}, ErrLLMConfigNotFound
	}
	return cfg, nil
}

func (a *App) DeleteLLMConfig(ctx context.Context, userID, id string) error {
	if err := a.store.DeleteLLMConfig(ctx, userID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrLLMConfigNotFound
		}
		return err
	}
	return nil
}

// SupportedModels lists the suggested model names per provider.
func (a *App) SupportedModels() []llm.SupportedModel {
	return llm.SupportedModels()
}

// resolveModel binds the user's default configuration, falling back to the
// system default model when the user saved none.
func (a *App) resolveModel(ctx context.Context, userID string) (llm.Model, error) {
	cfg, ok, err := a.store.DefaultLLMConfig(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	if !ok {
		return a.models.Resolve(nil)
	}
	return a.models.Resolve(&cfg)
}
