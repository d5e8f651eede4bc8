package service

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduscan/exam-checker/grading-service/internal/config"
	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/service/integration"
	"github.com/eduscan/exam-checker/grading-service/pkg/gradelog"
)

type fakeSessionRepo struct {
	session        *models.Session
	created        *models.Session
	statuses       []string
	selectedModels json.RawMessage
	defaultTries   *int
}

func (f *fakeSessionRepo) Create(ctx context.Context, session *models.Session) error {
	f.created = session
	return nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return f.session, nil
}

func (f *fakeSessionRepo) UpdateStatus(ctx context.Context, id, status string) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeSessionRepo) UpdateGradingConfig(ctx context.Context, id string, selectedModels json.RawMessage, defaultTries *int) error {
	f.selectedModels = selectedModels
	f.defaultTries = defaultTries
	return nil
}

type fakeImageRepo struct {
	byRole  map[string][]models.Image
	byURL   map[string]*models.Image
	bySlot  map[string]*models.Image
	created []models.Image
}

func slotKey(role string, orderIndex int) string {
	return fmt.Sprintf("%s:%d", role, orderIndex)
}

func (f *fakeImageRepo) Create(ctx context.Context, image *models.Image) error {
	f.created = append(f.created, *image)
	return nil
}

func (f *fakeImageRepo) GetBySession(ctx context.Context, sessionID string) ([]models.Image, error) {
	return nil, nil
}

func (f *fakeImageRepo) GetBySessionAndRole(ctx context.Context, sessionID, role string) ([]models.Image, error) {
	return f.byRole[role], nil
}

func (f *fakeImageRepo) GetBySessionAndURL(ctx context.Context, sessionID, url string) (*models.Image, error) {
	return f.byURL[url], nil
}

func (f *fakeImageRepo) GetBySlot(ctx context.Context, sessionID, role string, orderIndex int) (*models.Image, error) {
	return f.bySlot[slotKey(role, orderIndex)], nil
}

func (f *fakeImageRepo) CountByRole(ctx context.Context, sessionID, role string) (int, error) {
	return len(f.byRole[role]), nil
}

type fakeQuestionRepo struct {
	questions []models.Question
	upserts   []models.Question
	kept      []string
}

func (f *fakeQuestionRepo) GetBySession(ctx context.Context, sessionID string) ([]models.Question, error) {
	return f.questions, nil
}

func (f *fakeQuestionRepo) Upsert(ctx context.Context, question *models.Question) error {
	f.upserts = append(f.upserts, *question)
	return nil
}

func (f *fakeQuestionRepo) DeleteNotIn(ctx context.Context, sessionID string, keep []string) error {
	f.kept = keep
	return nil
}

type fakeResultRepo struct {
	mu          sync.Mutex
	batches     [][]models.Result
	sessionRows []models.Result
	err         error
}

func (f *fakeResultRepo) UpsertBatch(ctx context.Context, results []models.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	batch := make([]models.Result, len(results))
	copy(batch, results)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeResultRepo) GetBySession(ctx context.Context, sessionID string) ([]models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionRows, nil
}

func (f *fakeResultRepo) rows() []models.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.Result
	for _, batch := range f.batches {
		all = append(all, batch...)
	}
	return all
}

type fakeRubricRepo struct {
	mu   sync.Mutex
	rows []models.RubricResult
}

func (f *fakeRubricRepo) Upsert(ctx context.Context, result *models.RubricResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *result)
	return nil
}

type fakeTokenUsageRepo struct {
	rows []models.TokenUsage
	err  error
}

func (f *fakeTokenUsageRepo) UpsertBatch(ctx context.Context, records []models.TokenUsage) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, records...)
	return nil
}

func (f *fakeTokenUsageRepo) GetBySession(ctx context.Context, sessionID string) ([]models.TokenUsage, error) {
	return f.rows, nil
}

type fakeSettingsRepo struct {
	row        *models.AppSetting
	getErr     error
	savedKey   string
	savedValue []byte
}

func (f *fakeSettingsRepo) Get(ctx context.Context, key string) (*models.AppSetting, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.row, nil
}

func (f *fakeSettingsRepo) Upsert(ctx context.Context, key string, value []byte) error {
	f.savedKey = key
	f.savedValue = value
	return nil
}

type completionCall struct {
	model     string
	messages  []models.ChatMessage
	reasoning map[string]interface{}
	meta      integration.CallMeta
}

type fakeReply struct {
	completion *models.RawCompletion
	err        error
}

type fakeCompletions struct {
	mu      sync.Mutex
	replies map[string]fakeReply
	calls   []completionCall
}

func (f *fakeCompletions) Complete(ctx context.Context, model string, messages []models.ChatMessage, reasoning map[string]interface{}, meta integration.CallMeta) (*models.RawCompletion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, completionCall{model: model, messages: messages, reasoning: reasoning, meta: meta})
	reply, ok := f.replies[model]
	if !ok {
		return nil, fmt.Errorf("no scripted reply for model %s", model)
	}
	return reply.completion, reply.err
}

func (f *fakeCompletions) callsFor(model string) []completionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []completionCall
	for _, call := range f.calls {
		if call.model == model {
			out = append(out, call)
		}
	}
	return out
}

type gradingFixture struct {
	sessionRepo *fakeSessionRepo
	resultRepo  *fakeResultRepo
	rubricRepo  *fakeRubricRepo
	usageRepo   *fakeTokenUsageRepo
	client      *fakeCompletions
	service     GradingService
}

func newGradingFixture(t *testing.T, replies map[string]fakeReply) *gradingFixture {
	t.Helper()

	f := &gradingFixture{
		sessionRepo: &fakeSessionRepo{session: &models.Session{ID: "sess-1", Status: "created"}},
		resultRepo:  &fakeResultRepo{},
		rubricRepo:  &fakeRubricRepo{},
		usageRepo:   &fakeTokenUsageRepo{},
		client:      &fakeCompletions{replies: replies},
	}

	imageRepo := &fakeImageRepo{byRole: map[string][]models.Image{
		"student":    {{URL: "https://img.example/student_1.png", OrderIndex: 0}},
		"answer_key": {{URL: "https://img.example/key_1.png", OrderIndex: 0}},
	}}
	questionRepo := &fakeQuestionRepo{questions: []models.Question{
		{QuestionID: "Q1", Number: 1, MaxMarks: 5},
		{QuestionID: "Q2", Number: 2, MaxMarks: 10},
	}}

	f.service = NewGradingService(
		f.sessionRepo,
		imageRepo,
		questionRepo,
		f.resultRepo,
		f.rubricRepo,
		f.usageRepo,
		&fakeSettingsRepo{},
		f.client,
		nil,
		gradelog.NewWriter("", zerolog.Nop()),
		config.GradingConfig{MaxConcurrency: 2},
		zerolog.Nop(),
	)
	return f
}

func goodCompletion(t *testing.T, body string) *models.RawCompletion {
	t.Helper()
	content, err := json.Marshal(body)
	require.NoError(t, err)
	return &models.RawCompletion{
		Model: "provider/upstream-model",
		Choices: []models.Choice{{
			Message:      models.CompletionMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: &models.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		Raw:   json.RawMessage(`{"id":"gen-1"}`),
	}
}

func TestGradeSession_LegacyFlow(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"m": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":4},{"question_id":"Q2","marks_awarded":7.5}]}`)},
	})

	resp, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID:    "sess-1",
		Models:       []models.ModelSpec{{Name: "m"}},
		DefaultTries: 2,
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "sess-1", resp.SessionID)

	assert.Equal(t, []string{"grading", "graded"}, f.sessionRepo.statuses)
	assert.JSONEq(t, `["m"]`, string(f.sessionRepo.selectedModels))
	require.NotNil(t, f.sessionRepo.defaultTries)
	assert.Equal(t, 2, *f.sessionRepo.defaultTries)

	calls := f.client.callsFor("m")
	require.Len(t, calls, 2)
	assert.Equal(t, "m", calls[0].meta.InstanceID)
	assert.Equal(t, "sess-1", calls[0].meta.SessionID)

	rows := f.resultRepo.rows()
	require.Len(t, rows, 4)
	tries := map[int]int{}
	for _, row := range rows {
		assert.Equal(t, "m", row.ModelName)
		assert.NotNil(t, row.MarksAwarded)
		tries[row.TryIndex]++
	}
	assert.Equal(t, map[int]int{1: 2, 2: 2}, tries)

	require.Len(t, f.usageRepo.rows, 2)
	for _, usage := range f.usageRepo.rows {
		assert.Equal(t, models.UsageStageAssessment, usage.Stage)
		assert.Equal(t, 100, usage.InputTokens)
		require.NotNil(t, usage.ModelID)
		assert.Equal(t, "provider/upstream-model", *usage.ModelID)
	}
}

func TestGradeSession_SessionNotFound(t *testing.T) {
	f := newGradingFixture(t, nil)
	f.sessionRepo.session = nil

	_, err := f.service.GradeSession(context.Background(), &models.GradeRequest{SessionID: "missing"})
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestGradeSession_RequiresImagesAndQuestions(t *testing.T) {
	t.Run("no student images", func(t *testing.T) {
		f := &gradingFixture{
			sessionRepo: &fakeSessionRepo{session: &models.Session{ID: "sess-1"}},
			resultRepo:  &fakeResultRepo{},
			rubricRepo:  &fakeRubricRepo{},
			usageRepo:   &fakeTokenUsageRepo{},
			client:      &fakeCompletions{},
		}
		svc := NewGradingService(
			f.sessionRepo,
			&fakeImageRepo{byRole: map[string][]models.Image{}},
			&fakeQuestionRepo{questions: []models.Question{{QuestionID: "Q1", Number: 1, MaxMarks: 5}}},
			f.resultRepo, f.rubricRepo, f.usageRepo, &fakeSettingsRepo{},
			f.client, nil, gradelog.NewWriter("", zerolog.Nop()),
			config.GradingConfig{MaxConcurrency: 1}, zerolog.Nop(),
		)

		_, err := svc.GradeSession(context.Background(), &models.GradeRequest{
			SessionID: "sess-1",
			Models:    []models.ModelSpec{{Name: "m"}},
		})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, 422, verr.Status)
		assert.Contains(t, verr.Message, "student images")
	})

	t.Run("no questions", func(t *testing.T) {
		f := &gradingFixture{
			sessionRepo: &fakeSessionRepo{session: &models.Session{ID: "sess-1"}},
			resultRepo:  &fakeResultRepo{},
			rubricRepo:  &fakeRubricRepo{},
			usageRepo:   &fakeTokenUsageRepo{},
			client:      &fakeCompletions{},
		}
		svc := NewGradingService(
			f.sessionRepo,
			&fakeImageRepo{byRole: map[string][]models.Image{
				"student": {{URL: "https://img.example/student_1.png"}},
			}},
			&fakeQuestionRepo{},
			f.resultRepo, f.rubricRepo, f.usageRepo, &fakeSettingsRepo{},
			f.client, nil, gradelog.NewWriter("", zerolog.Nop()),
			config.GradingConfig{MaxConcurrency: 1}, zerolog.Nop(),
		)

		_, err := svc.GradeSession(context.Background(), &models.GradeRequest{
			SessionID: "sess-1",
			Models:    []models.ModelSpec{{Name: "m"}},
		})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Message, "questions")
	})
}

func TestGradeSession_AllCallsFailed(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"m": {err: &integration.UpstreamError{Status: 503, Body: "upstream down"}},
	})

	_, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		Models:    []models.ModelSpec{{Name: "m"}},
	})
	var upstream *integration.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, 503, upstream.Status)

	assert.Equal(t, []string{"grading", "failed"}, f.sessionRepo.statuses)
	assert.Empty(t, f.resultRepo.rows())
}

func TestGradeSession_PartialFailureStillGrades(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"good": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":3}]}`)},
		"bad":  {err: errors.New("connection reset")},
	})

	resp, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		Models:    []models.ModelSpec{{Name: "good"}, {Name: "bad"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"grading", "graded"}, f.sessionRepo.statuses)

	rows := f.resultRepo.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "good", rows[0].ModelName)
}

func TestGradeSession_ParseErrorProducesSentinel(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"m": {completion: goodCompletion(t, "I cannot grade these pages, sorry.")},
	})

	resp, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		Models:    []models.ModelSpec{{Name: "m"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	// Ответ без оценок означает сбой сессии, но сам вызов успешен
	assert.Equal(t, []string{"grading", "failed"}, f.sessionRepo.statuses)

	rows := f.resultRepo.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, models.QuestionIDParseError, rows[0].QuestionID)
	assert.Nil(t, rows[0].MarksAwarded)

	var diag map[string]interface{}
	require.NoError(t, json.Unmarshal(rows[0].ValidationErrors, &diag))
	assert.Equal(t, "no_json_in_content", diag["reason"])
}

func TestGradeSession_PairFlow(t *testing.T) {
	rubricBody := `{"grading_criteria":[{"question_id":"Q1","max_marks":5,"grading_criteria":["correct formula"],"deductions":[],"notes":""}]}`
	f := newGradingFixture(t, map[string]fakeReply{
		"rubric-model":     {completion: goodCompletion(t, rubricBody)},
		"assessment-model": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":4}]}`)},
	})

	resp, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		ModelPairs: []models.ModelPairSpec{{
			RubricModel:     models.ModelSpec{Name: "rubric-model"},
			AssessmentModel: models.ModelSpec{Name: "assessment-model"},
		}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"grading", "graded"}, f.sessionRepo.statuses)

	require.Len(t, f.rubricRepo.rows, 1)
	rubricRow := f.rubricRepo.rows[0]
	assert.Equal(t, "pair_1_rubric-model_assessment-model", rubricRow.ModelName)
	assert.JSONEq(t, rubricBody, string(rubricRow.RubricResponse))
	assert.Nil(t, rubricRow.ValidationErrors)

	// Рубрика должна попасть в системный текст оценивающего вызова
	assessmentCalls := f.client.callsFor("assessment-model")
	require.Len(t, assessmentCalls, 1)
	systemText, ok := assessmentCalls[0].messages[0].Content.(string)
	require.True(t, ok)
	assert.Contains(t, systemText, "correct formula")

	rows := f.resultRepo.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "pair_1_rubric-model_assessment-model", rows[0].ModelName)
	assert.Equal(t, "Q1", rows[0].QuestionID)

	stages := map[string]int{}
	for _, usage := range f.usageRepo.rows {
		stages[usage.Stage]++
	}
	assert.Equal(t, map[string]int{"rubric": 1, "assessment": 1}, stages)
}

func TestGradeSession_PairRubricParseFailure(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"rubric-model":     {completion: goodCompletion(t, "these pages look hard to grade")},
		"assessment-model": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":4}]}`)},
	})

	resp, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		ModelPairs: []models.ModelPairSpec{{
			RubricModel:     models.ModelSpec{Name: "rubric-model"},
			AssessmentModel: models.ModelSpec{Name: "assessment-model"},
		}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	// Оценивание состоялось, поэтому сессия всё же graded
	assert.Equal(t, []string{"grading", "graded"}, f.sessionRepo.statuses)

	require.Len(t, f.rubricRepo.rows, 1)
	assert.Empty(t, f.rubricRepo.rows[0].RubricResponse)
	var diag map[string]interface{}
	require.NoError(t, json.Unmarshal(f.rubricRepo.rows[0].ValidationErrors, &diag))
	assert.Equal(t, "rubric", diag["stage"])

	rows := f.resultRepo.rows()
	require.Len(t, rows, 2)
	byQID := map[string]models.Result{}
	for _, row := range rows {
		byQID[row.QuestionID] = row
	}
	assert.Contains(t, byQID, models.QuestionIDRubricError)
	assert.Contains(t, byQID, "Q1")

	systemText, ok := f.client.callsFor("assessment-model")[0].messages[0].Content.(string)
	require.True(t, ok)
	assert.NotContains(t, systemText, "Grading_Rubric")
}

func TestGradeSession_PairRubricTransportFailure(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"rubric-model":     {err: &integration.UpstreamError{Status: 500, Body: "boom"}},
		"assessment-model": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":4}]}`)},
	})

	_, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		ModelPairs: []models.ModelPairSpec{{
			RubricModel:     models.ModelSpec{Name: "rubric-model"},
			AssessmentModel: models.ModelSpec{Name: "assessment-model"},
		}},
	})
	var upstream *integration.UpstreamError
	require.True(t, errors.As(err, &upstream))

	assert.Equal(t, []string{"grading", "failed"}, f.sessionRepo.statuses)
	assert.Empty(t, f.rubricRepo.rows)
	assert.Empty(t, f.client.callsFor("assessment-model"))
}

func TestGradeSession_PersistFailureFatal(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"m": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":4}]}`)},
	})
	f.resultRepo.err = errors.New("duplicate key value violates unique constraint")

	_, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		Models:    []models.ModelSpec{{Name: "m"}},
	})
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Error(), "failed to persist results")

	assert.Equal(t, []string{"grading", "failed"}, f.sessionRepo.statuses)
}

func TestGradeSession_TokenUsageFailureNonFatal(t *testing.T) {
	f := newGradingFixture(t, map[string]fakeReply{
		"m": {completion: goodCompletion(t, `{"answers":[{"question_id":"Q1","marks_awarded":4}]}`)},
	})
	f.usageRepo.err = errors.New("token_usage table gone")

	resp, err := f.service.GradeSession(context.Background(), &models.GradeRequest{
		SessionID: "sess-1",
		Models:    []models.ModelSpec{{Name: "m"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"grading", "graded"}, f.sessionRepo.statuses)
}

func TestDedupeResults_KeepsLast(t *testing.T) {
	first := 1.0
	second := 2.0
	rows := []models.Result{
		{SessionID: "s", QuestionID: "Q1", ModelName: "m", TryIndex: 1, MarksAwarded: &first},
		{SessionID: "s", QuestionID: "Q2", ModelName: "m", TryIndex: 1, MarksAwarded: &first},
		{SessionID: "s", QuestionID: "Q1", ModelName: "m", TryIndex: 1, MarksAwarded: &second},
		{SessionID: "s", QuestionID: "Q1", ModelName: "m", TryIndex: 2, MarksAwarded: &first},
	}

	out := dedupeResults(rows)
	require.Len(t, out, 3)
	assert.Equal(t, "Q2", out[0].QuestionID)
	assert.Equal(t, "Q1", out[1].QuestionID)
	assert.Equal(t, 2.0, *out[1].MarksAwarded)
	assert.Equal(t, 2, out[2].TryIndex)
}

func TestEstimateCost(t *testing.T) {
	usage := &models.Usage{PromptTokens: 1000, CompletionTokens: 1000, ReasoningTokens: 1000}
	assert.InDelta(t, 0.019, estimateCost(usage), 1e-9)

	assert.Zero(t, estimateCost(&models.Usage{}))
}

func TestIsTransientDBError(t *testing.T) {
	assert.True(t, isTransientDBError(driver.ErrBadConn))
	assert.True(t, isTransientDBError(context.DeadlineExceeded))
	assert.True(t, isTransientDBError(fmt.Errorf("wrapped: %w", driver.ErrBadConn)))
	// класс 08 — connection_failure
	assert.True(t, isTransientDBError(&pq.Error{Code: "08006"}))

	// нарушение уникальности не лечится повтором
	assert.False(t, isTransientDBError(&pq.Error{Code: "23505"}))
	assert.False(t, isTransientDBError(errors.New("duplicate key")))
	assert.False(t, isTransientDBError(nil))
}
