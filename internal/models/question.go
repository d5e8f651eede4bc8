package models

import (
	"time"
)

type Question struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	QuestionID string    `json:"question_id" db:"question_id"`
	Number     int       `json:"number" db:"question_number"`
	MaxMarks   float64   `json:"max_marks" db:"max_marks"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
