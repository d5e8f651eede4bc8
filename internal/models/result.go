package models

import (
	"encoding/json"
	"time"
)

// Зарезервированные question_id: строки-маркеры, которыми помечается
// неудавшаяся попытка вместо настоящей оценки. Реальный вопрос с таким
// идентификатором конфликтовал бы с маркером, поэтому список закрытый.
const (
	QuestionIDParseError  = "__parse_error__"
	QuestionIDRubricError = "__rubric_error__"
)

func IsSentinelQuestionID(qid string) bool {
	return qid == QuestionIDParseError || qid == QuestionIDRubricError
}

type Result struct {
	ID               string          `json:"id" db:"id"`
	SessionID        string          `json:"session_id" db:"session_id"`
	QuestionID       string          `json:"question_id" db:"question_id"`
	ModelName        string          `json:"model_name" db:"model_name"`
	TryIndex         int             `json:"try_index" db:"try_index"`
	MarksAwarded     *float64        `json:"marks_awarded" db:"marks_awarded"`
	RubricNotes      *string         `json:"rubric_notes" db:"rubric_notes"`
	RawOutput        json.RawMessage `json:"raw_output,omitempty" db:"raw_output"`
	ValidationErrors json.RawMessage `json:"validation_errors,omitempty" db:"validation_errors"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

type RubricResult struct {
	ID               string          `json:"id" db:"id"`
	SessionID        string          `json:"session_id" db:"session_id"`
	ModelName        string          `json:"model_name" db:"model_name"`
	TryIndex         int             `json:"try_index" db:"try_index"`
	RubricResponse   json.RawMessage `json:"rubric_response,omitempty" db:"rubric_response"`
	RawOutput        json.RawMessage `json:"raw_output,omitempty" db:"raw_output"`
	ValidationErrors json.RawMessage `json:"validation_errors,omitempty" db:"validation_errors"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// ParsedAnswer — одна нормализованная оценка по вопросу из ответа модели.
type ParsedAnswer struct {
	QuestionID   string   `json:"question_id"`
	MarksAwarded *float64 `json:"marks_awarded"`
	RubricNotes  *string  `json:"rubric_notes"`
}
