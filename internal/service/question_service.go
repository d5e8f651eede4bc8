package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
)

type QuestionService interface {
	ConfigureQuestions(ctx context.Context, req *models.QuestionConfigRequest) error
}

type questionService struct {
	sessionRepo  repository.SessionRepository
	questionRepo repository.QuestionRepository
	statsRepo    repository.StatsRepository
	logger       zerolog.Logger
}

func NewQuestionService(
	sessionRepo repository.SessionRepository,
	questionRepo repository.QuestionRepository,
	statsRepo repository.StatsRepository,
	logger zerolog.Logger,
) QuestionService {
	return &questionService{
		sessionRepo:  sessionRepo,
		questionRepo: questionRepo,
		statsRepo:    statsRepo,
		logger:       logger,
	}
}

func (s *questionService) ConfigureQuestions(ctx context.Context, req *models.QuestionConfigRequest) error {
	// Проверяем существование сессии
	session, err := s.sessionRepo.GetByID(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if session == nil {
		return ErrSessionNotFound()
	}

	// question_id и number уникальны в пределах запроса
	seenQIDs := make(map[string]bool)
	seenNumbers := make(map[int]bool)
	maxByQID := make(map[string]float64)
	for _, q := range req.Questions {
		if q.QuestionID == "" {
			return NewUnprocessable("question_id must be non-empty")
		}
		if q.Number < 1 {
			return NewUnprocessable("question number must be >= 1")
		}
		if q.MaxMarks < 0 {
			return NewUnprocessable("max_marks must be >= 0")
		}
		if seenQIDs[q.QuestionID] {
			return &ValidationError{
				Status:  http.StatusUnprocessableEntity,
				Code:    CodeValidation,
				Message: "duplicate question_id in questions",
				Details: map[string]interface{}{"question_id": q.QuestionID},
			}
		}
		if seenNumbers[q.Number] {
			return &ValidationError{
				Status:  http.StatusUnprocessableEntity,
				Code:    CodeValidation,
				Message: "duplicate number in questions",
				Details: map[string]interface{}{"number": q.Number},
			}
		}
		seenQIDs[q.QuestionID] = true
		seenNumbers[q.Number] = true
		maxByQID[q.QuestionID] = q.MaxMarks
	}

	// Человеческие оценки ссылаются на известные вопросы и лежат в диапазоне
	for qid, mark := range req.HumanMarksByQID {
		maxMarks, ok := maxByQID[qid]
		if !ok {
			return &ValidationError{
				Status:  http.StatusUnprocessableEntity,
				Code:    CodeValidation,
				Message: "human_marks_by_qid contains question_id not present in questions",
				Details: map[string]interface{}{"question_id": qid},
			}
		}
		if mark < 0 || mark > maxMarks {
			return &ValidationError{
				Status:  http.StatusUnprocessableEntity,
				Code:    CodeValidation,
				Message: "mark out of range for question",
				Details: map[string]interface{}{"question_id": qid, "mark": mark, "max_marks": maxMarks},
			}
		}
	}

	// Payload авторитетен: апсертим пришедшие вопросы, остальные удаляем
	keep := make([]string, 0, len(req.Questions))
	for _, q := range req.Questions {
		question := &models.Question{
			ID:         uuid.New().String(),
			SessionID:  req.SessionID,
			QuestionID: q.QuestionID,
			Number:     q.Number,
			MaxMarks:   q.MaxMarks,
			CreatedAt:  time.Now(),
		}
		if err := s.questionRepo.Upsert(ctx, question); err != nil {
			return fmt.Errorf("failed to upsert questions: %w", err)
		}
		keep = append(keep, q.QuestionID)
	}
	if err := s.questionRepo.DeleteNotIn(ctx, req.SessionID, keep); err != nil {
		return fmt.Errorf("failed to delete removed questions: %w", err)
	}

	marks := req.HumanMarksByQID
	if marks == nil {
		marks = map[string]float64{}
	}
	payload, err := json.Marshal(marks)
	if err != nil {
		return fmt.Errorf("failed to marshal human marks: %w", err)
	}
	if err := s.statsRepo.UpsertHumanMarks(ctx, req.SessionID, payload); err != nil {
		return fmt.Errorf("failed to upsert stats: %w", err)
	}

	s.logger.Info().
		Str("session_id", req.SessionID).
		Int("questions", len(req.Questions)).
		Msg("Questions configured")

	return nil
}
