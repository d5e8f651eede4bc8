package models

import (
	"encoding/json"
	"time"
)

type SessionStats struct {
	SessionID              string          `json:"session_id" db:"session_id"`
	HumanMarksByQID        json.RawMessage `json:"human_marks_by_qid,omitempty" db:"human_marks_by_qid"`
	Totals                 json.RawMessage `json:"totals,omitempty" db:"totals"`
	DiscrepanciesByModelTry json.RawMessage `json:"discrepancies_by_model_try,omitempty" db:"discrepancies_by_model_try"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}
