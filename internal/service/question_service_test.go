package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type fakeStatsRepo struct {
	row           *models.SessionStats
	humanMarks    json.RawMessage
	totals        json.RawMessage
	discrepancies json.RawMessage
}

func (f *fakeStatsRepo) GetBySession(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	return f.row, nil
}

func (f *fakeStatsRepo) UpsertHumanMarks(ctx context.Context, sessionID string, humanMarks json.RawMessage) error {
	f.humanMarks = humanMarks
	return nil
}

func (f *fakeStatsRepo) UpsertComputed(ctx context.Context, sessionID string, totals, discrepancies json.RawMessage) error {
	f.totals = totals
	f.discrepancies = discrepancies
	return nil
}

func newQuestionService(sessionRepo *fakeSessionRepo, questionRepo *fakeQuestionRepo, statsRepo *fakeStatsRepo) QuestionService {
	return NewQuestionService(sessionRepo, questionRepo, statsRepo, zerolog.Nop())
}

func TestConfigureQuestions_SessionNotFound(t *testing.T) {
	svc := newQuestionService(&fakeSessionRepo{}, &fakeQuestionRepo{}, &fakeStatsRepo{})

	err := svc.ConfigureQuestions(context.Background(), &models.QuestionConfigRequest{
		SessionID: "missing",
		Questions: []models.QuestionConfigQuestion{{QuestionID: "Q1", Number: 1, MaxMarks: 5}},
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestConfigureQuestions_Validation(t *testing.T) {
	tests := []struct {
		name      string
		questions []models.QuestionConfigQuestion
		wantMsg   string
	}{
		{
			name:      "empty question id",
			questions: []models.QuestionConfigQuestion{{QuestionID: "", Number: 1, MaxMarks: 5}},
			wantMsg:   "question_id must be non-empty",
		},
		{
			name:      "number below one",
			questions: []models.QuestionConfigQuestion{{QuestionID: "Q1", Number: 0, MaxMarks: 5}},
			wantMsg:   "question number must be >= 1",
		},
		{
			name:      "negative max marks",
			questions: []models.QuestionConfigQuestion{{QuestionID: "Q1", Number: 1, MaxMarks: -1}},
			wantMsg:   "max_marks must be >= 0",
		},
		{
			name: "duplicate question id",
			questions: []models.QuestionConfigQuestion{
				{QuestionID: "Q1", Number: 1, MaxMarks: 5},
				{QuestionID: "Q1", Number: 2, MaxMarks: 3},
			},
			wantMsg: "duplicate question_id in questions",
		},
		{
			name: "duplicate number",
			questions: []models.QuestionConfigQuestion{
				{QuestionID: "Q1", Number: 1, MaxMarks: 5},
				{QuestionID: "Q2", Number: 1, MaxMarks: 3},
			},
			wantMsg: "duplicate number in questions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			questions := &fakeQuestionRepo{}
			svc := newQuestionService(registeredSession(), questions, &fakeStatsRepo{})

			err := svc.ConfigureQuestions(context.Background(), &models.QuestionConfigRequest{
				SessionID: "sess-1",
				Questions: tt.questions,
			})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, http.StatusUnprocessableEntity, verr.Status)
			assert.Equal(t, tt.wantMsg, verr.Message)
			assert.Empty(t, questions.upserts)
		})
	}
}

func TestConfigureQuestions_HumanMarksValidation(t *testing.T) {
	questions := []models.QuestionConfigQuestion{{QuestionID: "Q1", Number: 1, MaxMarks: 5}}

	tests := []struct {
		name    string
		marks   map[string]float64
		wantMsg string
	}{
		{
			name:    "unknown question id",
			marks:   map[string]float64{"Q9": 3},
			wantMsg: "human_marks_by_qid contains question_id not present in questions",
		},
		{
			name:    "mark above max",
			marks:   map[string]float64{"Q1": 6},
			wantMsg: "mark out of range for question",
		},
		{
			name:    "negative mark",
			marks:   map[string]float64{"Q1": -1},
			wantMsg: "mark out of range for question",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newQuestionService(registeredSession(), &fakeQuestionRepo{}, &fakeStatsRepo{})

			err := svc.ConfigureQuestions(context.Background(), &models.QuestionConfigRequest{
				SessionID:       "sess-1",
				Questions:       questions,
				HumanMarksByQID: tt.marks,
			})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, http.StatusUnprocessableEntity, verr.Status)
			assert.Equal(t, tt.wantMsg, verr.Message)
		})
	}
}

func TestConfigureQuestions_UpsertsAndPrunes(t *testing.T) {
	questions := &fakeQuestionRepo{}
	stats := &fakeStatsRepo{}
	svc := newQuestionService(registeredSession(), questions, stats)

	err := svc.ConfigureQuestions(context.Background(), &models.QuestionConfigRequest{
		SessionID: "sess-1",
		Questions: []models.QuestionConfigQuestion{
			{QuestionID: "Q1", Number: 1, MaxMarks: 5},
			{QuestionID: "Q2", Number: 2, MaxMarks: 10},
		},
		HumanMarksByQID: map[string]float64{"Q1": 4.5},
	})
	require.NoError(t, err)

	require.Len(t, questions.upserts, 2)
	assert.Equal(t, "Q1", questions.upserts[0].QuestionID)
	assert.Equal(t, 1, questions.upserts[0].Number)
	assert.Equal(t, 10.0, questions.upserts[1].MaxMarks)
	assert.Equal(t, []string{"Q1", "Q2"}, questions.kept)

	var saved map[string]float64
	require.NoError(t, json.Unmarshal(stats.humanMarks, &saved))
	assert.Equal(t, map[string]float64{"Q1": 4.5}, saved)
}

func TestConfigureQuestions_NilHumanMarksStoredAsEmptyObject(t *testing.T) {
	stats := &fakeStatsRepo{}
	svc := newQuestionService(registeredSession(), &fakeQuestionRepo{}, stats)

	err := svc.ConfigureQuestions(context.Background(), &models.QuestionConfigRequest{
		SessionID: "sess-1",
		Questions: []models.QuestionConfigQuestion{{QuestionID: "Q1", Number: 1, MaxMarks: 5}},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{}`, string(stats.humanMarks))
}
