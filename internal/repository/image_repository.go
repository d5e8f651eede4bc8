package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type ImageRepository interface {
	Create(ctx context.Context, image *models.Image) error
	GetBySession(ctx context.Context, sessionID string) ([]models.Image, error)
	GetBySessionAndRole(ctx context.Context, sessionID, role string) ([]models.Image, error)
	GetBySessionAndURL(ctx context.Context, sessionID, url string) (*models.Image, error)
	GetBySlot(ctx context.Context, sessionID, role string, orderIndex int) (*models.Image, error)
	CountByRole(ctx context.Context, sessionID, role string) (int, error)
}

type imageRepository struct {
	*PostgresRepository
}

func NewImageRepository(db *sql.DB, logger zerolog.Logger) ImageRepository {
	return &imageRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *imageRepository) Create(ctx context.Context, image *models.Image) error {
	query := `
		INSERT INTO session_images (id, session_id, role, url, order_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		image.ID,
		image.SessionID,
		image.Role,
		image.URL,
		image.OrderIndex,
		image.CreatedAt,
	)

	return err
}

func (r *imageRepository) GetBySession(ctx context.Context, sessionID string) ([]models.Image, error) {
	query := `
		SELECT id, session_id, role, url, order_index, created_at
		FROM session_images
		WHERE session_id = $1
		ORDER BY role, order_index
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanImages(rows)
}

func (r *imageRepository) GetBySessionAndRole(ctx context.Context, sessionID, role string) ([]models.Image, error) {
	query := `
		SELECT id, session_id, role, url, order_index, created_at
		FROM session_images
		WHERE session_id = $1 AND role = $2
		ORDER BY order_index
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanImages(rows)
}

func (r *imageRepository) GetBySessionAndURL(ctx context.Context, sessionID, url string) (*models.Image, error) {
	query := `
		SELECT id, session_id, role, url, order_index, created_at
		FROM session_images
		WHERE session_id = $1 AND url = $2
	`

	image := &models.Image{}
	err := r.db.QueryRowContext(ctx, query, sessionID, url).Scan(
		&image.ID,
		&image.SessionID,
		&image.Role,
		&image.URL,
		&image.OrderIndex,
		&image.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return image, err
}

func (r *imageRepository) GetBySlot(ctx context.Context, sessionID, role string, orderIndex int) (*models.Image, error) {
	query := `
		SELECT id, session_id, role, url, order_index, created_at
		FROM session_images
		WHERE session_id = $1 AND role = $2 AND order_index = $3
	`

	image := &models.Image{}
	err := r.db.QueryRowContext(ctx, query, sessionID, role, orderIndex).Scan(
		&image.ID,
		&image.SessionID,
		&image.Role,
		&image.URL,
		&image.OrderIndex,
		&image.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return image, err
}

func (r *imageRepository) CountByRole(ctx context.Context, sessionID, role string) (int, error) {
	query := `SELECT COUNT(*) FROM session_images WHERE session_id = $1 AND role = $2`

	var count int
	err := r.db.QueryRowContext(ctx, query, sessionID, role).Scan(&count)
	return count, err
}

func scanImages(rows *sql.Rows) ([]models.Image, error) {
	var images []models.Image
	for rows.Next() {
		var image models.Image
		err := rows.Scan(
			&image.ID,
			&image.SessionID,
			&image.Role,
			&image.URL,
			&image.OrderIndex,
			&image.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}

	return images, rows.Err()
}
