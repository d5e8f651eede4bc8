package models

import (
	"time"
)

type PromptSettings struct {
	SystemTemplate string `json:"system_template"`
	UserTemplate   string `json:"user_template"`
	SchemaTemplate string `json:"schema_template"`
}

type AppSetting struct {
	Key       string    `json:"key" db:"key"`
	Value     []byte    `json:"-" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const PromptSettingsKey = "prompt_settings"
