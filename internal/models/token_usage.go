package models

import (
	"encoding/json"
	"time"
)

// Этапы вызова модели, для которых пишется расход токенов.
const (
	UsageStageRubric     = "rubric"
	UsageStageAssessment = "assessment"
)

type TokenUsage struct {
	ID                       string          `json:"id" db:"id"`
	SessionID                string          `json:"session_id" db:"session_id"`
	ModelName                string          `json:"model_name" db:"model_name"`
	TryIndex                 int             `json:"try_index" db:"try_index"`
	Stage                    string          `json:"stage" db:"stage"`
	InputTokens              int             `json:"input_tokens" db:"input_tokens"`
	OutputTokens             int             `json:"output_tokens" db:"output_tokens"`
	ReasoningTokens          int             `json:"reasoning_tokens" db:"reasoning_tokens"`
	TotalTokens              int             `json:"total_tokens" db:"total_tokens"`
	CacheCreationInputTokens int             `json:"cache_creation_input_tokens" db:"cache_creation_input_tokens"`
	CacheReadInputTokens     int             `json:"cache_read_input_tokens" db:"cache_read_input_tokens"`
	ModelID                  *string         `json:"model_id,omitempty" db:"model_id"`
	FinishReason             *string         `json:"finish_reason,omitempty" db:"finish_reason"`
	CostEstimate             *float64        `json:"cost_estimate,omitempty" db:"cost_estimate"`
	Metadata                 json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt                time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at" db:"updated_at"`
}
