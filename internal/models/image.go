package models

import (
	"time"
)

type Image struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	Role       string    `json:"role" db:"role"` // student, answer_key
	URL        string    `json:"url" db:"url"`
	OrderIndex int       `json:"order_index" db:"order_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

type ImageRole string

const (
	ImageRoleStudent   ImageRole = "student"
	ImageRoleAnswerKey ImageRole = "answer_key"
)

func (r ImageRole) String() string {
	return string(r)
}

func IsValidImageRole(role string) bool {
	switch role {
	case "student", "answer_key":
		return true
	default:
		return false
	}
}
