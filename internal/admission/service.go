// Package admission accepts uploads from privileged callers, stores the
// source blob and enqueues a transcode job for it.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/cuongbtq/transcode-pipeline/internal/blobstore"
	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/google/uuid"
)

// TokenVerifier resolves a bearer token into a claim
type TokenVerifier interface {
	Verify(token string) (auth.Claim, error)
}

// Upload is one file of a multipart request
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// JobAccepted is returned for an admitted upload
type JobAccepted struct {
	JobID        string `json:"job_id"`
	SourceBlobID string `json:"video_fid"`
}

// Config bounds every external call made while admitting
type Config struct {
	StoreTimeout     time.Duration
	PublishTimeout   time.Duration
	RollbackAttempts int
	RollbackInterval time.Duration
}

// DefaultConfig returns the timeouts used when none are configured
func DefaultConfig() Config {
	return Config{
		StoreTimeout:     30 * time.Second,
		PublishTimeout:   10 * time.Second,
		RollbackAttempts: 3,
		RollbackInterval: 200 * time.Millisecond,
	}
}

// Service implements the admit operation
type Service struct {
	verifier  TokenVerifier
	store     blobstore.Store
	publisher queue.Publisher
	config    Config
	logger    *slog.Logger
}

// NewService creates a new admission service
func NewService(verifier TokenVerifier, store blobstore.Store, publisher queue.Publisher, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		verifier:  verifier,
		store:     store,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
	}
}

// Admit authorizes the caller, stores the single uploaded file and enqueues
// a TranscodeJob for it. Every write happens at most once; when the enqueue
// fails the stored blob is removed again before returning.
func (s *Service) Admit(ctx context.Context, bearer string, files []Upload) (JobAccepted, error) {
	claim, err := s.authorize(bearer)
	if err != nil {
		return JobAccepted{}, err
	}

	if len(files) != 1 {
		return JobAccepted{}, newError(ErrBadRequest, fmt.Errorf("exactly one file required, got %d", len(files)))
	}
	file := files[0]

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	blobID, err := s.store.Put(storeCtx, file.Data, file.ContentType)
	cancel()
	if err != nil {
		s.logger.Error("Failed to store upload",
			slog.String("subject", claim.Subject),
			slog.String("filename", file.Filename),
			slog.Any("error", err),
		)
		return JobAccepted{}, newError(ErrStorageUnavailable, err)
	}

	jobID := uuid.NewString()
	body, err := domain.TranscodeJob{SourceBlobID: blobID, Requester: claim.Subject}.Encode()
	if err == nil {
		publishCtx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
		err = s.publisher.Publish(publishCtx, domain.TranscodeQueue, queue.Message{ID: jobID, Body: body})
		cancel()
	}
	if err != nil {
		s.logger.Error("Failed to enqueue transcode job, rolling back upload",
			slog.String("job_id", jobID),
			slog.String("video_fid", blobID),
			slog.Any("error", err),
		)
		if rollbackErr := s.rollback(ctx, blobID); rollbackErr != nil {
			err = errors.Join(err, rollbackErr)
		}
		return JobAccepted{}, newError(ErrQueueUnavailable, err)
	}

	s.logger.Info("Transcode job admitted",
		slog.String("job_id", jobID),
		slog.String("video_fid", blobID),
		slog.String("subject", claim.Subject),
		slog.Int("size", len(file.Data)),
	)

	return JobAccepted{JobID: jobID, SourceBlobID: blobID}, nil
}

func (s *Service) authorize(bearer string) (auth.Claim, error) {
	if bearer == "" {
		return auth.Claim{}, newError(ErrUnauthenticated, auth.ErrUnauthenticated)
	}

	claim, err := s.verifier.Verify(bearer)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			s.logger.Info("Rejected bearer token", slog.String("reason", string(authErr.Reason)))
		}
		return auth.Claim{}, newError(ErrUnauthenticated, err)
	}

	if !claim.IsAdmin {
		s.logger.Info("Upload denied for non-admin subject", slog.String("subject", claim.Subject))
		return auth.Claim{}, newError(ErrForbidden, fmt.Errorf("subject %s may not admit jobs", claim.Subject))
	}

	return claim, nil
}

// rollback deletes the orphaned blob. It runs detached from the request
// context so a disconnecting client cannot leave the blob behind.
func (s *Service) rollback(ctx context.Context, blobID string) error {
	ctx = context.WithoutCancel(ctx)

	attempts := s.config.RollbackAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		deleteCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
		err = s.store.Delete(deleteCtx, blobID)
		cancel()

		if err == nil || errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Info("Upload rolled back", slog.String("video_fid", blobID))
			return nil
		}

		s.logger.Warn("Failed to roll back upload",
			slog.String("video_fid", blobID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt < attempts {
			time.Sleep(s.config.RollbackInterval)
		}
	}

	s.logger.Error("Orphaned upload left in object store",
		slog.String("video_fid", blobID),
		slog.Any("error", err),
	)
	return fmt.Errorf("failed to delete blob %s: %w", blobID, err)
}
