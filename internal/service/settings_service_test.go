package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/service/prompt"
)

func TestGetPromptSettings_DefaultsWhenEmpty(t *testing.T) {
	svc := NewSettingsService(&fakeSettingsRepo{}, zerolog.Nop())

	settings, err := svc.GetPromptSettings(context.Background())
	require.NoError(t, err)

	defaults := prompt.DefaultSettings()
	assert.Equal(t, defaults, *settings)
}

func TestGetPromptSettings_MergesStoredWithDefaults(t *testing.T) {
	repo := &fakeSettingsRepo{
		row: &models.AppSetting{
			Key:   models.PromptSettingsKey,
			Value: []byte(`{"system_template":"custom system","user_template":"","schema_template":""}`),
		},
	}
	svc := NewSettingsService(repo, zerolog.Nop())

	settings, err := svc.GetPromptSettings(context.Background())
	require.NoError(t, err)

	defaults := prompt.DefaultSettings()
	assert.Equal(t, "custom system", settings.SystemTemplate)
	assert.Equal(t, defaults.UserTemplate, settings.UserTemplate)
	assert.Equal(t, defaults.SchemaTemplate, settings.SchemaTemplate)
}

func TestGetPromptSettings_StringWrappedValue(t *testing.T) {
	inner := `{"system_template":"s","user_template":"u","schema_template":"j"}`
	wrapped, err := json.Marshal(inner)
	require.NoError(t, err)

	repo := &fakeSettingsRepo{row: &models.AppSetting{Key: models.PromptSettingsKey, Value: wrapped}}
	svc := NewSettingsService(repo, zerolog.Nop())

	settings, err := svc.GetPromptSettings(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "s", settings.SystemTemplate)
	assert.Equal(t, "u", settings.UserTemplate)
	assert.Equal(t, "j", settings.SchemaTemplate)
}

func TestGetPromptSettings_UnreadableValueFallsBack(t *testing.T) {
	repo := &fakeSettingsRepo{row: &models.AppSetting{Key: models.PromptSettingsKey, Value: []byte("not json at all")}}
	svc := NewSettingsService(repo, zerolog.Nop())

	settings, err := svc.GetPromptSettings(context.Background())
	require.NoError(t, err)

	defaults := prompt.DefaultSettings()
	assert.Equal(t, defaults, *settings)
}

func TestGetPromptSettings_RepoError(t *testing.T) {
	repo := &fakeSettingsRepo{getErr: errors.New("connection refused")}
	svc := NewSettingsService(repo, zerolog.Nop())

	_, err := svc.GetPromptSettings(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load prompt settings")
}

func TestUpdatePromptSettings_RequiresAllFields(t *testing.T) {
	tests := []struct {
		name     string
		settings models.PromptSettings
	}{
		{name: "missing system", settings: models.PromptSettings{UserTemplate: "u", SchemaTemplate: "j"}},
		{name: "missing user", settings: models.PromptSettings{SystemTemplate: "s", SchemaTemplate: "j"}},
		{name: "missing schema", settings: models.PromptSettings{SystemTemplate: "s", UserTemplate: "u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeSettingsRepo{}
			svc := NewSettingsService(repo, zerolog.Nop())

			_, err := svc.UpdatePromptSettings(context.Background(), &tt.settings)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, CodeValidation, verr.Code)
			assert.Empty(t, repo.savedKey)
		})
	}
}

func TestUpdatePromptSettings_Persists(t *testing.T) {
	repo := &fakeSettingsRepo{}
	svc := NewSettingsService(repo, zerolog.Nop())

	in := &models.PromptSettings{SystemTemplate: "s", UserTemplate: "u", SchemaTemplate: "j"}
	out, err := svc.UpdatePromptSettings(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	assert.Equal(t, models.PromptSettingsKey, repo.savedKey)

	var saved models.PromptSettings
	require.NoError(t, json.Unmarshal(repo.savedValue, &saved))
	assert.Equal(t, *in, saved)
}
