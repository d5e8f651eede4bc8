package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

func TestGroupResults(t *testing.T) {
	notes := "partially correct"
	rows := []models.Result{
		{QuestionID: "Q1", ModelName: "m1", TryIndex: 2, MarksAwarded: mark(5)},
		{QuestionID: "Q1", ModelName: "m1", TryIndex: 1, MarksAwarded: mark(4), RubricNotes: &notes},
		{QuestionID: "Q1", ModelName: "m2", TryIndex: 1, MarksAwarded: mark(3)},
		{QuestionID: "Q2", ModelName: "m1", TryIndex: 0, MarksAwarded: nil},
		{QuestionID: models.QuestionIDParseError, ModelName: "m1", TryIndex: 1},
		{QuestionID: models.QuestionIDRubricError, ModelName: "m1", TryIndex: 1},
	}

	grouped := groupResults(rows)
	require.Len(t, grouped, 2)

	m1 := grouped["Q1"]["m1"]
	require.Len(t, m1, 2)
	assert.Equal(t, 1, m1[0].TryIndex)
	assert.Equal(t, 4.0, *m1[0].MarksAwarded)
	assert.Equal(t, "partially correct", *m1[0].RubricNotes)
	assert.Equal(t, 2, m1[1].TryIndex)

	require.Len(t, grouped["Q1"]["m2"], 1)

	// Нулевая попытка нормализуется к первой
	q2 := grouped["Q2"]["m1"]
	require.Len(t, q2, 1)
	assert.Equal(t, 1, q2[0].TryIndex)
	assert.Nil(t, q2[0].MarksAwarded)
}

func TestGroupResultErrors_SkipsStaleParseErrors(t *testing.T) {
	diag, err := json.Marshal(map[string]string{"reason": "no_json_in_content"})
	require.NoError(t, err)

	rows := []models.Result{
		{QuestionID: "Q1", ModelName: "m", TryIndex: 1, MarksAwarded: mark(4)},
		{QuestionID: models.QuestionIDParseError, ModelName: "m", TryIndex: 1, ValidationErrors: diag},
		{QuestionID: models.QuestionIDParseError, ModelName: "m", TryIndex: 2, ValidationErrors: diag},
	}

	grouped := groupResultErrors(rows)
	require.Len(t, grouped, 1)
	require.NotContains(t, grouped["m"], "1")
	require.Contains(t, grouped["m"], "2")
	assert.Equal(t, "no_json_in_content", grouped["m"]["2"][0]["reason"])
}

func TestGroupResultErrors_RubricErrorsAlwaysVisible(t *testing.T) {
	diag, err := json.Marshal(map[string]string{"reason": "criteria_not_list", "stage": "rubric"})
	require.NoError(t, err)

	rows := []models.Result{
		{QuestionID: "Q1", ModelName: "m", TryIndex: 1, MarksAwarded: mark(4)},
		{QuestionID: models.QuestionIDRubricError, ModelName: "m", TryIndex: 1, ValidationErrors: diag},
	}

	grouped := groupResultErrors(rows)
	require.Contains(t, grouped["m"], "1")
	entry := grouped["m"]["1"][0]
	assert.Equal(t, "criteria_not_list", entry["reason"])
	assert.Equal(t, "rubric", entry["stage"])
}

func TestDecodeValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
		want []map[string]interface{}
	}{
		{"empty", nil, []map[string]interface{}{{}}},
		{"null", json.RawMessage(`null`), []map[string]interface{}{{}}},
		{"object", json.RawMessage(`{"reason":"x"}`), []map[string]interface{}{{"reason": "x"}}},
		{
			"mixed list",
			json.RawMessage(`[{"reason":"a"},"plain text"]`),
			[]map[string]interface{}{{"reason": "a"}, {"reason": "plain text"}},
		},
		{"scalar", json.RawMessage(`42`), []map[string]interface{}{{"reason": "42"}}},
		{"not json", json.RawMessage(`oops`), []map[string]interface{}{{"reason": "oops"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeValidationErrors(tt.raw))
		})
	}
}

func TestGetResults_SessionNotFound(t *testing.T) {
	svc := NewResultsService(&fakeSessionRepo{}, &fakeResultRepo{}, zerolog.Nop())

	_, err := svc.GetResults(context.Background(), "missing")
	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestGetResultErrors_EmptyListsStayLists(t *testing.T) {
	resultRepo := &fakeResultRepo{sessionRows: []models.Result{
		{QuestionID: models.QuestionIDParseError, ModelName: "m", TryIndex: 1},
	}}
	svc := NewResultsService(
		&fakeSessionRepo{session: &models.Session{ID: "sess-1"}},
		resultRepo,
		zerolog.Nop(),
	)

	resp, err := svc.GetResultErrors(context.Background(), "sess-1")
	require.NoError(t, err)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"errors_by_model_try":{"m":{"1":[{}]}}`)
}
