package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateGradingConfig(ctx context.Context, id string, selectedModels json.RawMessage, defaultTries *int) error
}

type sessionRepository struct {
	*PostgresRepository
}

func NewSessionRepository(db *sql.DB, logger zerolog.Logger) SessionRepository {
	return &sessionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *sessionRepository) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO grading_sessions (id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	)

	return err
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, status, selected_models, default_tries, created_at, updated_at
		FROM grading_sessions
		WHERE id = $1
	`

	session := &models.Session{}
	var selectedModels []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Status,
		&selectedModels,
		&session.DefaultTries,
		&session.CreatedAt,
		&session.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if len(selectedModels) > 0 {
		session.SelectedModels = json.RawMessage(selectedModels)
	}

	return session, err
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE grading_sessions
		SET status = $1, updated_at = $2
		WHERE id = $3
	`

	_, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

func (r *sessionRepository) UpdateGradingConfig(ctx context.Context, id string, selectedModels json.RawMessage, defaultTries *int) error {
	query := `
		UPDATE grading_sessions
		SET selected_models = $1, default_tries = $2, updated_at = $3
		WHERE id = $4
	`

	_, err := r.db.ExecContext(ctx, query, []byte(selectedModels), defaultTries, time.Now(), id)
	return err
}
