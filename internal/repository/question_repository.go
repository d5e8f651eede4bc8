package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type QuestionRepository interface {
	GetBySession(ctx context.Context, sessionID string) ([]models.Question, error)
	Upsert(ctx context.Context, question *models.Question) error
	DeleteNotIn(ctx context.Context, sessionID string, keepQuestionIDs []string) error
}

type questionRepository struct {
	*PostgresRepository
}

func NewQuestionRepository(db *sql.DB, logger zerolog.Logger) QuestionRepository {
	return &questionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *questionRepository) GetBySession(ctx context.Context, sessionID string) ([]models.Question, error) {
	query := `
		SELECT id, session_id, question_id, question_number, max_marks, created_at
		FROM session_questions
		WHERE session_id = $1
		ORDER BY question_number
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var question models.Question
		err := rows.Scan(
			&question.ID,
			&question.SessionID,
			&question.QuestionID,
			&question.Number,
			&question.MaxMarks,
			&question.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}

	return questions, rows.Err()
}

func (r *questionRepository) Upsert(ctx context.Context, question *models.Question) error {
	query := `
		INSERT INTO session_questions (id, session_id, question_id, question_number, max_marks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, question_id) DO UPDATE SET
			question_number = EXCLUDED.question_number,
			max_marks = EXCLUDED.max_marks
	`

	_, err := r.db.ExecContext(ctx, query,
		question.ID,
		question.SessionID,
		question.QuestionID,
		question.Number,
		question.MaxMarks,
		question.CreatedAt,
	)

	return err
}

func (r *questionRepository) DeleteNotIn(ctx context.Context, sessionID string, keepQuestionIDs []string) error {
	if len(keepQuestionIDs) == 0 {
		query := `DELETE FROM session_questions WHERE session_id = $1`
		_, err := r.db.ExecContext(ctx, query, sessionID)
		return err
	}

	query := `DELETE FROM session_questions WHERE session_id = $1 AND question_id != ALL($2)`
	_, err := r.db.ExecContext(ctx, query, sessionID, pq.Array(keepQuestionIDs))
	return err
}
