package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type RubricRepository interface {
	Upsert(ctx context.Context, result *models.RubricResult) error
}

type rubricRepository struct {
	*PostgresRepository
}

func NewRubricRepository(db *sql.DB, logger zerolog.Logger) RubricRepository {
	return &rubricRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *rubricRepository) Upsert(ctx context.Context, result *models.RubricResult) error {
	query := `
		INSERT INTO rubric_results (
			id, session_id, model_name, try_index,
			rubric_response, raw_output, validation_errors,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, model_name, try_index) DO UPDATE SET
			rubric_response = EXCLUDED.rubric_response,
			raw_output = EXCLUDED.raw_output,
			validation_errors = EXCLUDED.validation_errors,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		result.ID,
		result.SessionID,
		result.ModelName,
		result.TryIndex,
		nullableJSON(result.RubricResponse),
		nullableJSON(result.RawOutput),
		nullableJSON(result.ValidationErrors),
		now,
		now,
	)

	return err
}
