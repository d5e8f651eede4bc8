package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

type TokenUsageRepository interface {
	UpsertBatch(ctx context.Context, records []models.TokenUsage) error
	GetBySession(ctx context.Context, sessionID string) ([]models.TokenUsage, error)
}

type tokenUsageRepository struct {
	*PostgresRepository
}

func NewTokenUsageRepository(db *sql.DB, logger zerolog.Logger) TokenUsageRepository {
	return &tokenUsageRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *tokenUsageRepository) UpsertBatch(ctx context.Context, records []models.TokenUsage) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO token_usage (
			id, session_id, model_name, try_index, stage,
			input_tokens, output_tokens, reasoning_tokens, total_tokens,
			cache_creation_input_tokens, cache_read_input_tokens,
			model_id, finish_reason, cost_estimate, metadata,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (session_id, model_name, try_index, stage) DO UPDATE SET
			input_tokens = EXCLUDED.input_tokens,
			output_tokens = EXCLUDED.output_tokens,
			reasoning_tokens = EXCLUDED.reasoning_tokens,
			total_tokens = EXCLUDED.total_tokens,
			cache_creation_input_tokens = EXCLUDED.cache_creation_input_tokens,
			cache_read_input_tokens = EXCLUDED.cache_read_input_tokens,
			model_id = EXCLUDED.model_id,
			finish_reason = EXCLUDED.finish_reason,
			cost_estimate = EXCLUDED.cost_estimate,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, record := range records {
			_, err := tx.ExecContext(ctx, query,
				record.ID,
				record.SessionID,
				record.ModelName,
				record.TryIndex,
				record.Stage,
				record.InputTokens,
				record.OutputTokens,
				record.ReasoningTokens,
				record.TotalTokens,
				record.CacheCreationInputTokens,
				record.CacheReadInputTokens,
				record.ModelID,
				record.FinishReason,
				record.CostEstimate,
				nullableJSON(record.Metadata),
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

func (r *tokenUsageRepository) GetBySession(ctx context.Context, sessionID string) ([]models.TokenUsage, error) {
	query := `
		SELECT id, session_id, model_name, try_index, stage,
			input_tokens, output_tokens, reasoning_tokens, total_tokens,
			cache_creation_input_tokens, cache_read_input_tokens,
			model_id, finish_reason, cost_estimate, metadata,
			created_at, updated_at
		FROM token_usage
		WHERE session_id = $1
		ORDER BY model_name, try_index, stage
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.TokenUsage
	for rows.Next() {
		var record models.TokenUsage
		var metadata []byte
		err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.ModelName,
			&record.TryIndex,
			&record.Stage,
			&record.InputTokens,
			&record.OutputTokens,
			&record.ReasoningTokens,
			&record.TotalTokens,
			&record.CacheCreationInputTokens,
			&record.CacheReadInputTokens,
			&record.ModelID,
			&record.FinishReason,
			&record.CostEstimate,
			&metadata,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		record.Metadata = metadata
		records = append(records, record)
	}

	return records, rows.Err()
}
