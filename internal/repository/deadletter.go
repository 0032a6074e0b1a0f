package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DeadLetterRepository persists rejected or storage-failed messages for
// offline inspection. Recording is fire-and-forget: a failed dead-letter
// write is logged and discarded so it can never block the primary path.
type DeadLetterRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDeadLetterRepository creates a new dead-letter repository
func NewDeadLetterRepository(pool *pgxpool.Pool, logger *zap.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool, logger: logger}
}

// Record appends one dead letter.
func (r *DeadLetterRepository) Record(ctx context.Context, topic string, payload []byte, reason string, receivedAt time.Time) {
	query := `
		INSERT INTO dead_letters (id, topic, payload, reason, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		uuid.New(),
		topic,
		payload,
		reason,
		receivedAt,
	)
	if err != nil {
		r.logger.Error("failed to record dead letter",
			zap.Error(err),
			zap.String("topic", topic),
			zap.String("reason", reason),
		)
	}
}
