package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type ResultRepository interface {
	UpsertBatch(ctx context.Context, results []models.Result) error
	GetBySession(ctx context.Context, sessionID string) ([]models.Result, error)
}

type resultRepository struct {
	*PostgresRepository
}

func NewResultRepository(db *sql.DB, logger zerolog.Logger) ResultRepository {
	return &resultRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *resultRepository) UpsertBatch(ctx context.Context, results []models.Result) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO grading_results (
			id, session_id, question_id, model_name, try_index,
			marks_awarded, rubric_notes, raw_output, validation_errors,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, question_id, model_name, try_index) DO UPDATE SET
			marks_awarded = EXCLUDED.marks_awarded,
			rubric_notes = EXCLUDED.rubric_notes,
			raw_output = EXCLUDED.raw_output,
			validation_errors = EXCLUDED.validation_errors,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, result := range results {
			_, err := tx.ExecContext(ctx, query,
				result.ID,
				result.SessionID,
				result.QuestionID,
				result.ModelName,
				result.TryIndex,
				result.MarksAwarded,
				result.RubricNotes,
				nullableJSON(result.RawOutput),
				nullableJSON(result.ValidationErrors),
				now,
				now,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *resultRepository) GetBySession(ctx context.Context, sessionID string) ([]models.Result, error) {
	query := `
		SELECT id, session_id, question_id, model_name, try_index,
			marks_awarded, rubric_notes, raw_output, validation_errors,
			created_at, updated_at
		FROM grading_results
		WHERE session_id = $1
		ORDER BY model_name, try_index, question_id
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Result
	for rows.Next() {
		var result models.Result
		var rawOutput, validationErrors []byte
		err := rows.Scan(
			&result.ID,
			&result.SessionID,
			&result.QuestionID,
			&result.ModelName,
			&result.TryIndex,
			&result.MarksAwarded,
			&result.RubricNotes,
			&rawOutput,
			&validationErrors,
			&result.CreatedAt,
			&result.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result.RawOutput = rawOutput
		result.ValidationErrors = validationErrors
		results = append(results, result)
	}

	return results, rows.Err()
}

// nullableJSON переводит пустой RawMessage в NULL, чтобы в jsonb-колонку
// не попадала пустая строка.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
