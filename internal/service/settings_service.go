package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
	"github.com/eduscan/exam-checker/grading-service/internal/service/prompt"
)

type SettingsService interface {
	GetPromptSettings(ctx context.Context) (*models.PromptSettings, error)
	UpdatePromptSettings(ctx context.Context, settings *models.PromptSettings) (*models.PromptSettings, error)
}

type settingsService struct {
	settingsRepo repository.SettingsRepository
	logger       zerolog.Logger
}

func NewSettingsService(settingsRepo repository.SettingsRepository, logger zerolog.Logger) SettingsService {
	return &settingsService{
		settingsRepo: settingsRepo,
		logger:       logger,
	}
}

// GetPromptSettings возвращает сохранённые шаблоны промптов, подставляя
// дефолт вместо каждого пустого поля.
func (s *settingsService) GetPromptSettings(ctx context.Context) (*models.PromptSettings, error) {
	defaults := prompt.DefaultSettings()

	row, err := s.settingsRepo.Get(ctx, models.PromptSettingsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt settings: %w", err)
	}
	if row == nil {
		return &defaults, nil
	}

	stored := decodeStoredSettings(row.Value)
	merged := models.PromptSettings{
		SystemTemplate: firstNonEmpty(stored.SystemTemplate, defaults.SystemTemplate),
		UserTemplate:   firstNonEmpty(stored.UserTemplate, defaults.UserTemplate),
		SchemaTemplate: firstNonEmpty(stored.SchemaTemplate, defaults.SchemaTemplate),
	}
	return &merged, nil
}

func (s *settingsService) UpdatePromptSettings(ctx context.Context, settings *models.PromptSettings) (*models.PromptSettings, error) {
	if settings.SystemTemplate == "" || settings.UserTemplate == "" || settings.SchemaTemplate == "" {
		return nil, NewBadRequest("system_template, user_template, and schema_template are all required")
	}

	value, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompt settings: %w", err)
	}

	if err := s.settingsRepo.Upsert(ctx, models.PromptSettingsKey, value); err != nil {
		return nil, fmt.Errorf("failed to save prompt settings: %w", err)
	}

	s.logger.Info().Msg("Prompt settings updated")

	return settings, nil
}

// Значение могло попасть в базу и объектом, и JSON-строкой с объектом
// внутри. Нечитаемое значение равнозначно отсутствию настроек.
func decodeStoredSettings(value []byte) models.PromptSettings {
	raw := value
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		raw = []byte(wrapped)
	}

	var settings models.PromptSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return models.PromptSettings{}
	}
	return settings
}

func firstNonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
