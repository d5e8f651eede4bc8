package models

// Data Transfer Objects

type SessionCreateResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type OkResponse struct {
	OK bool `json:"ok"`
}

type ImageRegisterRequest struct {
	SessionID  string `json:"session_id" validate:"required,uuid"`
	Role       string `json:"role" validate:"required,oneof=student answer_key"`
	URL        string `json:"url" validate:"required"`
	OrderIndex int    `json:"order_index" validate:"gte=0"`
}

type SignedURLRequest struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
}

type SignedURLResponse struct {
	UploadURL string            `json:"uploadUrl"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	PublicURL string            `json:"publicUrl,omitempty"`
}

type QuestionConfigQuestion struct {
	QuestionID string  `json:"question_id" validate:"required"`
	Number     int     `json:"number" validate:"required,gte=1"`
	MaxMarks   float64 `json:"max_marks" validate:"required,gte=0"`
}

type QuestionConfigRequest struct {
	SessionID       string                   `json:"session_id" validate:"required,uuid"`
	Questions       []QuestionConfigQuestion `json:"questions" validate:"required,min=1"`
	HumanMarksByQID map[string]float64       `json:"human_marks_by_qid"`
}

// ModelSpec описывает одну конфигурацию модели в запросе на грейдинг.
type ModelSpec struct {
	Name       string                 `json:"name" validate:"required"`
	Tries      int                    `json:"tries,omitempty"`
	Reasoning  map[string]interface{} `json:"reasoning,omitempty"`
	InstanceID string                 `json:"instance_id,omitempty"`
}

// ModelPairSpec — пара моделей для двухфазного режима: первая извлекает
// рубрику из ключа ответов, вторая оценивает работу с учётом рубрики.
type ModelPairSpec struct {
	RubricModel     ModelSpec `json:"rubric_model"`
	AssessmentModel ModelSpec `json:"assessment_model"`
	InstanceID      string    `json:"instance_id,omitempty"`
}

type GradeRequest struct {
	SessionID    string                 `json:"session_id" validate:"required,uuid"`
	Models       []ModelSpec            `json:"models,omitempty"`
	ModelPairs   []ModelPairSpec        `json:"model_pairs,omitempty"`
	DefaultTries int                    `json:"default_tries,omitempty"`
	Reasoning    map[string]interface{} `json:"reasoning,omitempty"`
}

type GradeResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id"`
}

type ResultItem struct {
	TryIndex     int      `json:"try_index"`
	MarksAwarded *float64 `json:"marks_awarded"`
	RubricNotes  *string  `json:"rubric_notes"`
}

type ResultsResponse struct {
	SessionID         string                             `json:"session_id"`
	ResultsByQuestion map[string]map[string][]ResultItem `json:"results_by_question"`
}

type ResultsErrorsResponse struct {
	SessionID        string                                         `json:"session_id"`
	ErrorsByModelTry map[string]map[string][]map[string]interface{} `json:"errors_by_model_try"`
}

type TagMismatch struct {
	QID   string `json:"qid"`
	Human string `json:"human"`
	AI    string `json:"ai"`
}

type DiscrepancyList struct {
	Count     int      `json:"count"`
	Questions []string `json:"questions"`
}

type DiscrepancyTagged struct {
	Count      int           `json:"count"`
	Questions  []string      `json:"questions"`
	Mismatched []TagMismatch `json:"mismatched"`
}

type DiscrepancySet struct {
	LT100 DiscrepancyList   `json:"lt100"`
	ZPF   DiscrepancyTagged `json:"zpf"`
	Range DiscrepancyTagged `json:"range"`
}

type AttemptTokenStats struct {
	InputTokens     int      `json:"input_tokens"`
	OutputTokens    int      `json:"output_tokens"`
	ReasoningTokens *int     `json:"reasoning_tokens"`
	TotalTokens     int      `json:"total_tokens"`
	CostEstimate    *float64 `json:"cost_estimate"`
}

type ModelTokenStats struct {
	TotalInputTokens     int                          `json:"total_input_tokens"`
	TotalOutputTokens    int                          `json:"total_output_tokens"`
	TotalReasoningTokens int                          `json:"total_reasoning_tokens"`
	TotalTokens          int                          `json:"total_tokens"`
	TotalCost            float64                      `json:"total_cost"`
	Attempts             map[string]AttemptTokenStats `json:"attempts"`
}

type StatsTotals struct {
	TotalMaxMarks               float64                       `json:"total_max_marks"`
	TotalMarksAwardedByModelTry map[string]map[string]float64 `json:"total_marks_awarded_by_model_try"`
	TokenUsageStats             map[string]ModelTokenStats    `json:"token_usage_stats"`
}

type StatsResponse struct {
	SessionID               string                               `json:"session_id"`
	HumanMarksByQID         map[string]float64                   `json:"human_marks_by_qid"`
	Totals                  StatsTotals                          `json:"totals"`
	DiscrepanciesByModelTry map[string]map[string]DiscrepancySet `json:"discrepancies_by_model_try"`
}
