package service

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/config"
	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
	"github.com/eduscan/exam-checker/grading-service/internal/service/answers"
	"github.com/eduscan/exam-checker/grading-service/internal/service/integration"
	"github.com/eduscan/exam-checker/grading-service/internal/service/prompt"
	"github.com/eduscan/exam-checker/grading-service/pkg/gradelog"
	"github.com/eduscan/exam-checker/grading-service/pkg/retry"
	"github.com/eduscan/exam-checker/grading-service/pkg/utils"
)

const (
	persistBatchSize = 50
	persistAttempts  = 3
)

type GradingService interface {
	GradeSession(ctx context.Context, req *models.GradeRequest) (*models.GradeResponse, error)
}

type gradingService struct {
	sessionRepo    repository.SessionRepository
	imageRepo      repository.ImageRepository
	questionRepo   repository.QuestionRepository
	resultRepo     repository.ResultRepository
	rubricRepo     repository.RubricRepository
	tokenUsageRepo repository.TokenUsageRepository
	settingsRepo   repository.SettingsRepository
	completions    integration.CompletionClient
	events         integration.EventsClient
	gradeLog       *gradelog.Writer
	cfg            config.GradingConfig
	logger         zerolog.Logger
}

func NewGradingService(
	sessionRepo repository.SessionRepository,
	imageRepo repository.ImageRepository,
	questionRepo repository.QuestionRepository,
	resultRepo repository.ResultRepository,
	rubricRepo repository.RubricRepository,
	tokenUsageRepo repository.TokenUsageRepository,
	settingsRepo repository.SettingsRepository,
	completions integration.CompletionClient,
	events integration.EventsClient,
	gradeLog *gradelog.Writer,
	cfg config.GradingConfig,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		sessionRepo:    sessionRepo,
		imageRepo:      imageRepo,
		questionRepo:   questionRepo,
		resultRepo:     resultRepo,
		rubricRepo:     rubricRepo,
		tokenUsageRepo: tokenUsageRepo,
		settingsRepo:   settingsRepo,
		completions:    completions,
		events:         events,
		gradeLog:       gradeLog,
		cfg:            cfg,
		logger:         logger,
	}
}

// workOutcome — результат одной единицы работы после удалённых вызовов.
// err выставлен, когда транспорт не дал completion ни после каких повторов.
type workOutcome struct {
	item       WorkItem
	completion *models.RawCompletion
	rubric     *rubricOutcome
	err        error
}

type rubricOutcome struct {
	text       string
	completion *models.RawCompletion
	diag       *answers.Diagnostics
}

func (s *gradingService) GradeSession(ctx context.Context, req *models.GradeRequest) (*models.GradeResponse, error) {
	sessionID := req.SessionID

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session existence: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound()
	}

	studentImages, err := s.imageRepo.GetBySessionAndRole(ctx, sessionID, models.ImageRoleStudent.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load student images: %w", err)
	}
	if len(studentImages) == 0 {
		return nil, NewUnprocessable("no student images registered for session")
	}
	keyImages, err := s.imageRepo.GetBySessionAndRole(ctx, sessionID, models.ImageRoleAnswerKey.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load answer key images: %w", err)
	}

	questions, err := s.questionRepo.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, NewUnprocessable("no questions configured for session")
	}

	plan, err := PlanWorkItems(req)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("work_items", len(plan)).
		Int("student_images", len(studentImages)).
		Int("answer_key_images", len(keyImages)).
		Int("questions", len(questions)).
		Msg("Starting grading")

	s.persistGradingConfig(ctx, req, plan)
	s.setStatus(ctx, sessionID, models.SessionStatusGrading.String())

	tpl := s.loadTemplates(ctx)
	questionPtrs := make([]*models.Question, len(questions))
	for i := range questions {
		questionPtrs[i] = &questions[i]
	}
	studentURLs := imageURLs(studentImages)
	keyURLs := imageURLs(keyImages)

	// В парном режиме сообщения зависят от рубрики конкретной единицы
	// работы, в простом их можно собрать один раз на всех.
	var baseMessages []models.ChatMessage
	if plan[0].RubricModel == "" {
		baseMessages = prompt.BuildGradingMessages(tpl, questionPtrs, studentURLs, keyURLs, "")
	}

	maxConcurrency := s.cfg.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	outcomes := make([]workOutcome, len(plan))

	for i := range plan {
		wg.Add(1)
		go func(idx int, item WorkItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[idx] = s.runWorkItem(ctx, sessionID, item, tpl, questionPtrs, studentURLs, keyURLs, baseMessages)
		}(i, plan[i])
	}
	wg.Wait()

	failed := 0
	var firstErr error
	for _, outcome := range outcomes {
		if outcome.err != nil {
			failed++
			if firstErr == nil {
				firstErr = outcome.err
			}
		}
	}
	if failed == len(outcomes) {
		s.setStatus(ctx, sessionID, models.SessionStatusFailed.String())
		for _, outcome := range outcomes {
			var upstream *integration.UpstreamError
			var confErr *integration.ConfigError
			if errors.As(outcome.err, &upstream) || errors.As(outcome.err, &confErr) {
				return nil, outcome.err
			}
		}
		return nil, fmt.Errorf("grading failed: %w", firstErr)
	}

	rows, usageRows, hasValidAnswers := s.collectRows(sessionID, outcomes)

	rows = dedupeResults(rows)
	if err := s.persistResults(ctx, rows); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist grading results")
		s.setStatus(ctx, sessionID, models.SessionStatusFailed.String())
		return nil, &PersistenceError{Message: "failed to persist results", Err: err}
	}
	s.persistTokenUsage(ctx, sessionID, usageRows)

	finalStatus := models.SessionStatusFailed.String()
	if hasValidAnswers {
		finalStatus = models.SessionStatusGraded.String()
	}
	s.setStatus(ctx, sessionID, finalStatus)
	s.publishCompleted(ctx, sessionID, finalStatus, plan, hasValidAnswers)

	s.logger.Info().
		Str("session_id", sessionID).
		Str("status", finalStatus).
		Int("result_rows", len(rows)).
		Int("failed_work_items", failed).
		Msg("Grading finished")

	return &models.GradeResponse{OK: true, SessionID: sessionID}, nil
}

func (s *gradingService) runWorkItem(
	ctx context.Context,
	sessionID string,
	item WorkItem,
	tpl prompt.Templates,
	questions []*models.Question,
	studentURLs, keyURLs []string,
	baseMessages []models.ChatMessage,
) workOutcome {
	outcome := workOutcome{item: item}
	messages := baseMessages

	if item.RubricModel != "" {
		rub, err := s.runRubricStage(ctx, sessionID, item, questions, keyURLs)
		if err != nil {
			outcome.err = err
			return outcome
		}
		outcome.rubric = rub
		messages = prompt.BuildGradingMessages(tpl, questions, studentURLs, keyURLs, rub.text)
	}

	meta := integration.CallMeta{SessionID: sessionID, TryIndex: item.TryIndex, InstanceID: item.InstanceID}
	completion, err := s.completions.Complete(ctx, item.Model, messages, item.AssessmentReasoning, meta)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("model", item.Model).
			Str("instance_id", item.InstanceID).
			Int("try", item.TryIndex).
			Msg("Assessment call failed")
		outcome.err = err
		return outcome
	}

	outcome.completion = completion
	return outcome
}

// runRubricStage выпрашивает у модели-модератора критерии оценивания по
// ключу ответов. Ошибка разбора деградирует до пустой рубрики, ошибка
// транспорта отменяет всю единицу работы.
func (s *gradingService) runRubricStage(
	ctx context.Context,
	sessionID string,
	item WorkItem,
	questions []*models.Question,
	keyURLs []string,
) (*rubricOutcome, error) {
	messages := prompt.BuildRubricMessages(questions, keyURLs)
	meta := integration.CallMeta{SessionID: sessionID, TryIndex: item.TryIndex, InstanceID: item.InstanceID}

	completion, err := s.completions.Complete(ctx, item.RubricModel, messages, item.RubricReasoning, meta)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("model", item.RubricModel).
			Str("instance_id", item.InstanceID).
			Int("try", item.TryIndex).
			Msg("Rubric call failed")
		return nil, fmt.Errorf("failed to generate rubric with %s: %w", item.RubricModel, err)
	}

	text, diag := answers.ParseRubric(completion)
	if diag != nil {
		diag.Stage = models.UsageStageRubric
		s.gradeLog.Append(sessionID, fmt.Sprintf("RUBRIC_PARSE_ERROR instance_id=%s try=%d\n%s",
			item.InstanceID, item.TryIndex, utils.JSONPretty(diag)))
		s.logger.Warn().
			Str("session_id", sessionID).
			Str("instance_id", item.InstanceID).
			Int("try", item.TryIndex).
			Str("reason", diag.Reason).
			Msg("Rubric response not parseable, grading without rubric")
	} else {
		s.gradeLog.Append(sessionID, fmt.Sprintf("RUBRIC_PARSED instance_id=%s try=%d chars=%d",
			item.InstanceID, item.TryIndex, len(text)))
	}

	s.persistRubric(ctx, sessionID, item, text, completion, diag)

	return &rubricOutcome{text: text, completion: completion, diag: diag}, nil
}

// persistRubric сохраняет ответ фазы рубрики независимо от исхода разбора.
func (s *gradingService) persistRubric(ctx context.Context, sessionID string, item WorkItem, text string, completion *models.RawCompletion, diag *answers.Diagnostics) {
	row := &models.RubricResult{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		ModelName: item.InstanceID,
		TryIndex:  item.TryIndex,
		RawOutput: completion.Raw,
	}
	// ParseRubric отдаёт проверенный JSON, кладем его в jsonb как есть
	if text != "" {
		row.RubricResponse = json.RawMessage(text)
	}
	if diag != nil {
		if encoded, err := json.Marshal(diag); err == nil {
			row.ValidationErrors = encoded
		}
	}

	if err := s.rubricRepo.Upsert(ctx, row); err != nil {
		s.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("instance_id", item.InstanceID).
			Int("try", item.TryIndex).
			Msg("Failed to persist rubric result")
	}
}

// collectRows превращает исходы единиц работы в строки результатов и
// расхода токенов. Порядок строк повторяет порядок плана, что делает
// дедупликацию "последний побеждает" детерминированной.
func (s *gradingService) collectRows(sessionID string, outcomes []workOutcome) ([]models.Result, []models.TokenUsage, bool) {
	var rows []models.Result
	var usageRows []models.TokenUsage
	hasValidAnswers := false

	for _, outcome := range outcomes {
		if outcome.err != nil {
			continue
		}
		item := outcome.item

		if outcome.rubric != nil {
			usageRows = appendUsageRow(usageRows, sessionID, item, models.UsageStageRubric, outcome.rubric.completion)
			if outcome.rubric.diag != nil {
				rows = append(rows, sentinelRow(sessionID, item, models.QuestionIDRubricError, outcome.rubric.completion, outcome.rubric.diag))
			}
		}
		usageRows = appendUsageRow(usageRows, sessionID, item, models.UsageStageAssessment, outcome.completion)

		parsed, diag := answers.Parse(outcome.completion)
		if diag != nil {
			s.gradeLog.Append(sessionID, fmt.Sprintf("PARSE_ERROR instance_id=%s try=%d\n%s",
				item.InstanceID, item.TryIndex, utils.JSONPretty(diag)))
			rows = append(rows, sentinelRow(sessionID, item, models.QuestionIDParseError, outcome.completion, diag))
			continue
		}

		s.gradeLog.Append(sessionID, fmt.Sprintf("PARSED instance_id=%s try=%d answers=%d\n%s",
			item.InstanceID, item.TryIndex, len(parsed), utils.JSONPretty(parsed)))
		hasValidAnswers = true
		for _, answer := range parsed {
			rows = append(rows, models.Result{
				ID:           uuid.New().String(),
				SessionID:    sessionID,
				QuestionID:   answer.QuestionID,
				ModelName:    item.InstanceID,
				TryIndex:     item.TryIndex,
				MarksAwarded: answer.MarksAwarded,
				RubricNotes:  answer.RubricNotes,
				RawOutput:    outcome.completion.Raw,
			})
		}
	}

	return rows, usageRows, hasValidAnswers
}

func sentinelRow(sessionID string, item WorkItem, questionID string, completion *models.RawCompletion, diag *answers.Diagnostics) models.Result {
	row := models.Result{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		QuestionID: questionID,
		ModelName:  item.InstanceID,
		TryIndex:   item.TryIndex,
	}
	if completion != nil {
		row.RawOutput = completion.Raw
	}
	if encoded, err := json.Marshal(diag); err == nil {
		row.ValidationErrors = encoded
	}
	return row
}

// dedupeResults убирает дубли по (сессия, вопрос, модель, попытка),
// оставляя последнее вхождение.
func dedupeResults(rows []models.Result) []models.Result {
	type rowKey struct {
		sessionID  string
		questionID string
		model      string
		try        int
	}

	last := make(map[rowKey]int, len(rows))
	for i, row := range rows {
		last[rowKey{row.SessionID, row.QuestionID, row.ModelName, row.TryIndex}] = i
	}

	out := make([]models.Result, 0, len(last))
	for i, row := range rows {
		if last[rowKey{row.SessionID, row.QuestionID, row.ModelName, row.TryIndex}] == i {
			out = append(out, row)
		}
	}
	return out
}

func (s *gradingService) persistResults(ctx context.Context, rows []models.Result) error {
	runner := retry.NewRunner(retry.Policy{
		MaxAttempts: persistAttempts,
		Backoff:     retry.ExpBackoff(time.Second),
		Retryable:   isTransientDBError,
	})

	for start := 0; start < len(rows); start += persistBatchSize {
		end := start + persistBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		err := runner.Do(ctx, func(attempt int) error {
			if attempt > 0 {
				s.logger.Warn().
					Int("attempt", attempt+1).
					Int("batch_start", start).
					Int("batch_size", len(batch)).
					Msg("Retrying result batch upsert")
			}
			return s.resultRepo.UpsertBatch(ctx, batch)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// isTransientDBError отделяет сбои соединения, которые имеет смысл
// повторить, от ошибок данных, которые повторением не лечатся.
func isTransientDBError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// класс 08 — ошибки соединения
		return strings.HasPrefix(string(pqErr.Code), "08")
	}
	return false
}

func (s *gradingService) persistTokenUsage(ctx context.Context, sessionID string, rows []models.TokenUsage) {
	if len(rows) == 0 {
		return
	}
	if err := s.tokenUsageRepo.UpsertBatch(ctx, rows); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist token usage")
		s.gradeLog.Append(sessionID, fmt.Sprintf("TOKEN_USAGE_ERROR %v", err))
	}
}

func appendUsageRow(rows []models.TokenUsage, sessionID string, item WorkItem, stage string, completion *models.RawCompletion) []models.TokenUsage {
	if completion == nil || completion.Usage == nil {
		return rows
	}
	usage := completion.Usage

	row := models.TokenUsage{
		ID:                       uuid.New().String(),
		SessionID:                sessionID,
		ModelName:                item.InstanceID,
		TryIndex:                 item.TryIndex,
		Stage:                    stage,
		InputTokens:              usage.PromptTokens,
		OutputTokens:             usage.CompletionTokens,
		ReasoningTokens:          usage.ReasoningTokens,
		TotalTokens:              usage.TotalTokens,
		CacheCreationInputTokens: usage.CacheCreationInputTokens,
		CacheReadInputTokens:     usage.CacheReadInputTokens,
	}
	if completion.Model != "" {
		modelID := completion.Model
		row.ModelID = &modelID
	}
	if len(completion.Choices) > 0 && completion.Choices[0].FinishReason != "" {
		finishReason := completion.Choices[0].FinishReason
		row.FinishReason = &finishReason
	}
	cost := estimateCost(usage)
	row.CostEstimate = &cost
	if metadata, err := json.Marshal(map[string]interface{}{"raw_usage": usage}); err == nil {
		row.Metadata = metadata
	}

	return append(rows, row)
}

// estimateCost — грубая оценка стоимости по усреднённым тарифам, точные
// тарифы зависят от модели и провайдера.
func estimateCost(usage *models.Usage) float64 {
	cost := float64(usage.PromptTokens)*0.003/1000 +
		float64(usage.CompletionTokens)*0.015/1000 +
		float64(usage.ReasoningTokens)*0.001/1000
	return math.Round(cost*1e6) / 1e6
}

// persistGradingConfig записывает выбранные модели и число попыток до
// начала вызовов, чтобы конфигурация была видна даже при падении грейдинга.
func (s *gradingService) persistGradingConfig(ctx context.Context, req *models.GradeRequest, plan []WorkItem) {
	selected, err := json.Marshal(uniqueInstanceIDs(plan))
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("Failed to marshal selected models")
		return
	}

	defaultTries := req.DefaultTries
	if defaultTries < 1 {
		defaultTries = 1
	}

	if err := s.sessionRepo.UpdateGradingConfig(ctx, req.SessionID, selected, &defaultTries); err != nil {
		s.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("Failed to persist grading config")
	}
}

func (s *gradingService) setStatus(ctx context.Context, sessionID, status string) {
	if err := s.sessionRepo.UpdateStatus(ctx, sessionID, status); err != nil {
		s.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("status", status).
			Msg("Failed to update session status")
	}
}

func (s *gradingService) loadTemplates(ctx context.Context) prompt.Templates {
	row, err := s.settingsRepo.Get(ctx, models.PromptSettingsKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load prompt settings, using built-in prompts")
		return prompt.Templates{}
	}
	if row == nil {
		return prompt.Templates{}
	}
	return prompt.TemplatesFromSettings(row.Value)
}

func (s *gradingService) publishCompleted(ctx context.Context, sessionID, status string, plan []WorkItem, validAnswers bool) {
	if s.events == nil {
		return
	}
	event := &models.GradingCompletedEvent{
		SessionID:    sessionID,
		Status:       status,
		Models:       uniqueInstanceIDs(plan),
		ValidAnswers: validAnswers,
		Timestamp:    time.Now().Unix(),
	}
	if err := s.events.PublishGradingCompleted(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to publish grading completed event")
	}
}

func uniqueInstanceIDs(plan []WorkItem) []string {
	seen := make(map[string]bool, len(plan))
	ids := make([]string, 0, len(plan))
	for _, item := range plan {
		if !seen[item.InstanceID] {
			seen[item.InstanceID] = true
			ids = append(ids, item.InstanceID)
		}
	}
	return ids
}

func imageURLs(images []models.Image) []string {
	urls := make([]string, 0, len(images))
	for _, image := range images {
		urls = append(urls, image.URL)
	}
	return urls
}
