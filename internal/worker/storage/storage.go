package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// DeadLetter is a delivery that was rejected without requeue
type DeadLetter struct {
	ID        int64     `db:"id" json:"id"`
	Queue     string    `db:"queue" json:"queue"`
	MessageID string    `db:"message_id" json:"message_id"`
	Payload   []byte    `db:"payload" json:"payload"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Storage handles the dead-letter journal
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Record inserts a dead letter
func (s *Storage) Record(ctx context.Context, dl *DeadLetter) error {
	query := `
		INSERT INTO dead_letters (queue, message_id, payload, reason)
		VALUES (:queue, :message_id, :payload, :reason)
	`

	if dl.Payload == nil {
		dl.Payload = []byte{}
	}

	if _, err := s.db.NamedExecContext(ctx, query, dl); err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}

	s.logger.Info("Dead letter recorded",
		slog.String("queue", dl.Queue),
		slog.String("message_id", dl.MessageID),
	)
	return nil
}
