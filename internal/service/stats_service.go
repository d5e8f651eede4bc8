package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
)

type StatsService interface {
	GetStats(ctx context.Context, sessionID string) (*models.StatsResponse, error)
}

type statsService struct {
	sessionRepo    repository.SessionRepository
	statsRepo      repository.StatsRepository
	questionRepo   repository.QuestionRepository
	resultRepo     repository.ResultRepository
	tokenUsageRepo repository.TokenUsageRepository
	logger         zerolog.Logger
}

func NewStatsService(
	sessionRepo repository.SessionRepository,
	statsRepo repository.StatsRepository,
	questionRepo repository.QuestionRepository,
	resultRepo repository.ResultRepository,
	tokenUsageRepo repository.TokenUsageRepository,
	logger zerolog.Logger,
) StatsService {
	return &statsService{
		sessionRepo:    sessionRepo,
		statsRepo:      statsRepo,
		questionRepo:   questionRepo,
		resultRepo:     resultRepo,
		tokenUsageRepo: tokenUsageRepo,
		logger:         logger,
	}
}

// modelTryKey — составной ключ модель+попытка для агрегатов.
type modelTryKey struct {
	Model string
	Try   int
}

func (s *statsService) GetStats(ctx context.Context, sessionID string) (*models.StatsResponse, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound()
	}

	humanMarks, err := s.loadHumanMarks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	questions, err := s.questionRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	qMax := make(map[string]float64, len(questions))
	totalMaxMarks := 0.0
	for _, q := range questions {
		qMax[q.QuestionID] = q.MaxMarks
		totalMaxMarks += q.MaxMarks
	}

	results, err := s.resultRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	totalsByModelTry, aiMarks := buildMarkAggregates(results, qMax)

	// Расход токенов не обязателен для статистики, его отсутствие не ошибка
	tokenStats := map[string]models.ModelTokenStats{}
	if usageRows, usageErr := s.tokenUsageRepo.GetBySession(ctx, sessionID); usageErr != nil {
		s.logger.Warn().Err(usageErr).Str("session_id", sessionID).Msg("Failed to load token usage")
	} else {
		tokenStats = aggregateTokenUsage(usageRows)
	}

	totals := models.StatsTotals{
		TotalMaxMarks:               totalMaxMarks,
		TotalMarksAwardedByModelTry: totalsByModelTry,
		TokenUsageStats:             tokenStats,
	}
	discrepancies := computeDiscrepancies(qMax, humanMarks, aiMarks)

	s.persistComputed(ctx, sessionID, totals, discrepancies)

	return &models.StatsResponse{
		SessionID:               sessionID,
		HumanMarksByQID:         humanMarks,
		Totals:                  totals,
		DiscrepanciesByModelTry: discrepancies,
	}, nil
}

func (s *statsService) loadHumanMarks(ctx context.Context, sessionID string) (map[string]float64, error) {
	stats, err := s.statsRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats row: %w", err)
	}

	humanMarks := map[string]float64{}
	if stats != nil && len(stats.HumanMarksByQID) > 0 {
		if err := json.Unmarshal(stats.HumanMarksByQID, &humanMarks); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to decode human marks")
			humanMarks = map[string]float64{}
		}
	}
	return humanMarks, nil
}

// persistComputed сохраняет рассчитанные агрегаты в строку статистики.
// Сбой не мешает вернуть результат вызывающему.
func (s *statsService) persistComputed(ctx context.Context, sessionID string, totals models.StatsTotals, discrepancies map[string]map[string]models.DiscrepancySet) {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to marshal stats totals")
		return
	}
	discrepanciesJSON, err := json.Marshal(discrepancies)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to marshal discrepancies")
		return
	}
	if err := s.statsRepo.UpsertComputed(ctx, sessionID, totalsJSON, discrepanciesJSON); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist computed stats")
	}
}

// zpfTag классифицирует оценку: Z ноль, F максимум, P всё промежуточное.
func zpfTag(mark, maxMarks float64) string {
	if maxMarks <= 0 {
		return "P"
	}
	if mark <= 0 {
		return "Z"
	}
	if math.Abs(mark-maxMarks) < 1e-9 {
		return "F"
	}
	return "P"
}

// rangeBucket раскладывает оценку по процентным корзинам 0-25, 25-74.9, 75-100.
func rangeBucket(mark, maxMarks float64) string {
	if maxMarks <= 0 {
		return "25_74_9"
	}
	pct := mark / maxMarks * 100.0
	if pct <= 25.0 {
		return "0_25"
	}
	if pct >= 75.0 {
		return "75_100"
	}
	return "25_74_9"
}

// buildMarkAggregates суммирует оценки по модели и попытке и собирает
// пооценочную карту для поиска расхождений. Маркерные строки, неизвестные
// вопросы и null-оценки пропускаются.
func buildMarkAggregates(results []models.Result, qMax map[string]float64) (map[string]map[string]float64, map[modelTryKey]map[string]float64) {
	totals := make(map[string]map[string]float64)
	aiMarks := make(map[modelTryKey]map[string]float64)

	for _, row := range results {
		if models.IsSentinelQuestionID(row.QuestionID) {
			continue
		}
		if _, known := qMax[row.QuestionID]; !known {
			continue
		}
		if row.MarksAwarded == nil {
			continue
		}
		tryIndex := normalizeTry(row.TryIndex)
		mark := *row.MarksAwarded

		byTry, ok := totals[row.ModelName]
		if !ok {
			byTry = make(map[string]float64)
			totals[row.ModelName] = byTry
		}
		byTry[strconv.Itoa(tryIndex)] += mark

		key := modelTryKey{Model: row.ModelName, Try: tryIndex}
		marks, ok := aiMarks[key]
		if !ok {
			marks = make(map[string]float64)
			aiMarks[key] = marks
		}
		marks[row.QuestionID] = mark
	}

	return totals, aiMarks
}

// computeDiscrepancies сравнивает оценки модели с человеческими по трём
// метрикам. Сравнение ограничено вопросами, на которые модель дала оценку.
func computeDiscrepancies(qMax, humanMarks map[string]float64, aiMarks map[modelTryKey]map[string]float64) map[string]map[string]models.DiscrepancySet {
	humanZPF := make(map[string]string)
	humanRange := make(map[string]string)
	humanLT100 := make(map[string]bool)
	for qid, hmark := range humanMarks {
		maxMarks, known := qMax[qid]
		if !known {
			continue
		}
		humanZPF[qid] = zpfTag(hmark, maxMarks)
		humanRange[qid] = rangeBucket(hmark, maxMarks)
		if hmark < maxMarks {
			humanLT100[qid] = true
		}
	}

	out := make(map[string]map[string]models.DiscrepancySet)
	for key, marks := range aiMarks {
		aiQIDs := make([]string, 0, len(marks))
		for qid := range marks {
			aiQIDs = append(aiQIDs, qid)
		}
		sort.Strings(aiQIDs)

		// lt100: симметрическая разница множеств "не максимум", суженная
		// до вопросов с оценкой модели
		symdiff := make([]string, 0)
		for _, qid := range aiQIDs {
			aiLT := marks[qid] < qMax[qid]
			if aiLT != humanLT100[qid] {
				symdiff = append(symdiff, qid)
			}
		}

		zpf := models.DiscrepancyTagged{Questions: make([]string, 0), Mismatched: make([]models.TagMismatch, 0)}
		rng := models.DiscrepancyTagged{Questions: make([]string, 0), Mismatched: make([]models.TagMismatch, 0)}
		for _, qid := range aiQIDs {
			maxMarks := qMax[qid]
			if humanTag, ok := humanZPF[qid]; ok {
				if aiTag := zpfTag(marks[qid], maxMarks); aiTag != humanTag {
					zpf.Mismatched = append(zpf.Mismatched, models.TagMismatch{QID: qid, Human: humanTag, AI: aiTag})
					zpf.Questions = append(zpf.Questions, qid)
				}
			}
			if humanTag, ok := humanRange[qid]; ok {
				if aiTag := rangeBucket(marks[qid], maxMarks); aiTag != humanTag {
					rng.Mismatched = append(rng.Mismatched, models.TagMismatch{QID: qid, Human: humanTag, AI: aiTag})
					rng.Questions = append(rng.Questions, qid)
				}
			}
		}
		zpf.Count = len(zpf.Mismatched)
		rng.Count = len(rng.Mismatched)

		byTry, ok := out[key.Model]
		if !ok {
			byTry = make(map[string]models.DiscrepancySet)
			out[key.Model] = byTry
		}
		byTry[strconv.Itoa(key.Try)] = models.DiscrepancySet{
			LT100: models.DiscrepancyList{Count: len(symdiff), Questions: symdiff},
			ZPF:   zpf,
			Range: rng,
		}
	}
	return out
}

// aggregateTokenUsage сводит расход токенов по моделям. Попытка фазы рубрики
// получает ключ вида "1_rubric", чтобы не затирать основную попытку.
func aggregateTokenUsage(rows []models.TokenUsage) map[string]models.ModelTokenStats {
	stats := make(map[string]models.ModelTokenStats)
	for _, row := range rows {
		if row.ModelName == "" {
			continue
		}
		entry, ok := stats[row.ModelName]
		if !ok {
			entry = models.ModelTokenStats{Attempts: make(map[string]models.AttemptTokenStats)}
		}

		entry.TotalInputTokens += row.InputTokens
		entry.TotalOutputTokens += row.OutputTokens
		entry.TotalReasoningTokens += row.ReasoningTokens
		entry.TotalTokens += row.TotalTokens
		if row.CostEstimate != nil {
			entry.TotalCost += *row.CostEstimate
		}

		attemptKey := strconv.Itoa(normalizeTry(row.TryIndex))
		if row.Stage == models.UsageStageRubric {
			attemptKey += "_rubric"
		}
		reasoning := row.ReasoningTokens
		entry.Attempts[attemptKey] = models.AttemptTokenStats{
			InputTokens:     row.InputTokens,
			OutputTokens:    row.OutputTokens,
			ReasoningTokens: &reasoning,
			TotalTokens:     row.TotalTokens,
			CostEstimate:    row.CostEstimate,
		}

		stats[row.ModelName] = entry
	}
	return stats
}
