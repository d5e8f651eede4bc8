package models

type GradingCompletedEvent struct {
	SessionID    string   `json:"session_id"`
	Status       string   `json:"status"`
	Models       []string `json:"models"`
	ValidAnswers bool     `json:"valid_answers"`
	Timestamp    int64    `json:"timestamp"`
}
