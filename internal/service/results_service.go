package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
)

type ResultsService interface {
	GetResults(ctx context.Context, sessionID string) (*models.ResultsResponse, error)
	GetResultErrors(ctx context.Context, sessionID string) (*models.ResultsErrorsResponse, error)
}

type resultsService struct {
	sessionRepo repository.SessionRepository
	resultRepo  repository.ResultRepository
	logger      zerolog.Logger
}

func NewResultsService(
	sessionRepo repository.SessionRepository,
	resultRepo repository.ResultRepository,
	logger zerolog.Logger,
) ResultsService {
	return &resultsService{
		sessionRepo: sessionRepo,
		resultRepo:  resultRepo,
		logger:      logger,
	}
}

func (s *resultsService) GetResults(ctx context.Context, sessionID string) (*models.ResultsResponse, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound()
	}

	rows, err := s.resultRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	return &models.ResultsResponse{
		SessionID:         sessionID,
		ResultsByQuestion: groupResults(rows),
	}, nil
}

func (s *resultsService) GetResultErrors(ctx context.Context, sessionID string) (*models.ResultsErrorsResponse, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound()
	}

	rows, err := s.resultRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	return &models.ResultsErrorsResponse{
		SessionID:        sessionID,
		ErrorsByModelTry: groupResultErrors(rows),
	}, nil
}

// groupResults раскладывает строки по вопросу и модели, пропуская
// маркерные question_id. Списки попыток отсортированы по try_index.
func groupResults(rows []models.Result) map[string]map[string][]models.ResultItem {
	grouped := make(map[string]map[string][]models.ResultItem)
	for _, row := range rows {
		if models.IsSentinelQuestionID(row.QuestionID) {
			continue
		}
		byModel, ok := grouped[row.QuestionID]
		if !ok {
			byModel = make(map[string][]models.ResultItem)
			grouped[row.QuestionID] = byModel
		}
		byModel[row.ModelName] = append(byModel[row.ModelName], models.ResultItem{
			TryIndex:     normalizeTry(row.TryIndex),
			MarksAwarded: row.MarksAwarded,
			RubricNotes:  row.RubricNotes,
		})
	}
	for _, byModel := range grouped {
		for _, items := range byModel {
			sort.SliceStable(items, func(i, j int) bool { return items[i].TryIndex < items[j].TryIndex })
		}
	}
	return grouped
}

// groupResultErrors собирает диагностику неудавшихся попыток. Ошибка разбора
// пропускается, если та же пара модель/попытка уже имеет валидные ответы:
// это устаревшая запись от предыдущего прогона. Ошибки рубрики остаются
// видимыми всегда, они документируют деградацию, а не провал.
func groupResultErrors(rows []models.Result) map[string]map[string][]map[string]interface{} {
	type modelTry struct {
		model string
		try   int
	}

	validPairs := make(map[modelTry]bool)
	for _, row := range rows {
		if !models.IsSentinelQuestionID(row.QuestionID) {
			validPairs[modelTry{row.ModelName, normalizeTry(row.TryIndex)}] = true
		}
	}

	errorsByModelTry := make(map[string]map[string][]map[string]interface{})
	for _, row := range rows {
		if !models.IsSentinelQuestionID(row.QuestionID) {
			continue
		}
		tryIndex := normalizeTry(row.TryIndex)
		if row.QuestionID == models.QuestionIDParseError && validPairs[modelTry{row.ModelName, tryIndex}] {
			continue
		}
		tryKey := strconv.Itoa(tryIndex)
		byTry, ok := errorsByModelTry[row.ModelName]
		if !ok {
			byTry = make(map[string][]map[string]interface{})
			errorsByModelTry[row.ModelName] = byTry
		}
		if byTry[tryKey] == nil {
			byTry[tryKey] = []map[string]interface{}{}
		}
		byTry[tryKey] = append(byTry[tryKey], decodeValidationErrors(row.ValidationErrors)...)
	}
	return errorsByModelTry
}

// decodeValidationErrors приводит сохранённый JSON к списку словарей для UI.
func decodeValidationErrors(raw json.RawMessage) []map[string]interface{} {
	if len(raw) == 0 {
		return []map[string]interface{}{{}}
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return []map[string]interface{}{{"reason": string(raw)}}
	}

	switch v := decoded.(type) {
	case nil:
		return []map[string]interface{}{{}}
	case map[string]interface{}:
		return []map[string]interface{}{v}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			} else {
				out = append(out, map[string]interface{}{"reason": fmt.Sprintf("%v", item)})
			}
		}
		return out
	default:
		return []map[string]interface{}{{"reason": fmt.Sprintf("%v", v)}}
	}
}

func normalizeTry(tryIndex int) int {
	if tryIndex < 1 {
		return 1
	}
	return tryIndex
}
