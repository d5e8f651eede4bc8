package models

import (
	"encoding/json"
	"time"
)

type Session struct {
	ID             string          `json:"id" db:"id"`
	Status         string          `json:"status" db:"status"`
	SelectedModels json.RawMessage `json:"selected_models,omitempty" db:"selected_models"`
	DefaultTries   *int            `json:"default_tries,omitempty" db:"default_tries"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

type SessionStatus string

const (
	SessionStatusCreated SessionStatus = "created"
	SessionStatusGrading SessionStatus = "grading"
	SessionStatusGraded  SessionStatus = "graded"
	SessionStatusFailed  SessionStatus = "failed"
)

func (s SessionStatus) String() string {
	return string(s)
}

func IsValidSessionStatus(status string) bool {
	switch status {
	case "created", "grading", "graded", "failed":
		return true
	default:
		return false
	}
}
