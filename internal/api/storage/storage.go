package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/api/model"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/cuongbtq/transcode-pipeline/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

var ErrUserNotFound = errors.New("user not found")

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	query := `
		SELECT id, email, password_hash, is_admin, created_at
		FROM users
		WHERE email = $1
	`

	err := s.db.GetContext(ctx, &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// UpsertUser creates the user or replaces its password and role
func (s *Storage) UpsertUser(ctx context.Context, email, passwordHash string, isAdmin bool) error {
	query := `
		INSERT INTO users (email, password_hash, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    is_admin = EXCLUDED.is_admin
	`

	if _, err := s.db.ExecContext(ctx, query, email, passwordHash, isAdmin); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// CheckCredentials implements auth.CredentialChecker
func (s *Storage) CheckCredentials(ctx context.Context, username, password string) (auth.Identity, error) {
	user, err := s.GetUserByEmail(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return auth.Identity{}, err
	}

	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return auth.Identity{}, err
	}

	return auth.Identity{Subject: user.Email, IsAdmin: user.IsAdmin}, nil
}

type DeadLetterFilter struct {
	Queue    string
	PageSize int
	Cursor   *DeadLetterCursor
}

type DeadLetterCursor struct {
	CreatedAt time.Time
	ID        int64
}

func (s *Storage) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]model.DeadLetter, error) {
	query := `
        SELECT id, queue, message_id, payload, reason, created_at
        FROM dead_letters
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, filter.Queue)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var letters []model.DeadLetter
	if err := s.db.SelectContext(ctx, &letters, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return letters, nil
}
