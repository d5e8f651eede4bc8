package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type StatsRepository interface {
	GetBySession(ctx context.Context, sessionID string) (*models.SessionStats, error)
	UpsertHumanMarks(ctx context.Context, sessionID string, humanMarksByQID json.RawMessage) error
	UpsertComputed(ctx context.Context, sessionID string, totals, discrepancies json.RawMessage) error
}

type statsRepository struct {
	*PostgresRepository
}

func NewStatsRepository(db *sql.DB, logger zerolog.Logger) StatsRepository {
	return &statsRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *statsRepository) GetBySession(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	query := `
		SELECT session_id, human_marks_by_qid, totals, discrepancies_by_model_try, updated_at
		FROM session_stats
		WHERE session_id = $1
	`

	stats := &models.SessionStats{}
	var humanMarks, totals, discrepancies []byte
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&stats.SessionID,
		&humanMarks,
		&totals,
		&discrepancies,
		&stats.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	stats.HumanMarksByQID = humanMarks
	stats.Totals = totals
	stats.DiscrepanciesByModelTry = discrepancies

	return stats, err
}

func (r *statsRepository) UpsertHumanMarks(ctx context.Context, sessionID string, humanMarksByQID json.RawMessage) error {
	query := `
		INSERT INTO session_stats (session_id, human_marks_by_qid, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			human_marks_by_qid = EXCLUDED.human_marks_by_qid,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, sessionID, []byte(humanMarksByQID), time.Now())
	return err
}

func (r *statsRepository) UpsertComputed(ctx context.Context, sessionID string, totals, discrepancies json.RawMessage) error {
	query := `
		INSERT INTO session_stats (session_id, totals, discrepancies_by_model_try, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE SET
			totals = EXCLUDED.totals,
			discrepancies_by_model_try = EXCLUDED.discrepancies_by_model_try,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, sessionID, []byte(totals), []byte(discrepancies), time.Now())
	return err
}
