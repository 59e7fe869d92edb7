package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const noSuchKey = "NoSuchKey"

// MinIOConfig holds S3-compatible object storage settings
type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	RetryAttempts int
	RetryInterval time.Duration
}

// MinIO stores blobs as objects in a single bucket
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinIO connects to the object store and makes sure the bucket exists,
// retrying while the server is still starting up
func NewMinIO(ctx context.Context, cfg *MinIOConfig, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		err = ensureBucket(ctx, client, cfg.Bucket)
		if err == nil {
			break
		}

		logger.Error("Failed to reach object store",
			slog.String("endpoint", cfg.Endpoint),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("failed to reach object store: %w", ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reach object store after %d attempts: %w", attempts, err)
	}

	logger.Info("Object store ready",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
	)

	return &MinIO{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}
	return nil
}

// Put uploads data under a new object name
func (m *MinIO) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	id := uuid.NewString()

	_, err := m.client.PutObject(ctx, m.bucket, id, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	m.logger.Debug("Blob stored",
		slog.String("blob_id", id),
		slog.Int("size", len(data)),
	)
	return id, nil
}

// Get downloads the object named id
func (m *MinIO) Get(ctx context.Context, id string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(err, "get")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.translate(err, "read")
	}
	return data, nil
}

// Stat reads the object's metadata without downloading it
func (m *MinIO) Stat(ctx context.Context, id string) (Info, error) {
	info, err := m.client.StatObject(ctx, m.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return Info{}, m.translate(err, "stat")
	}
	return Info{ContentType: info.ContentType, Size: info.Size}, nil
}

// Delete removes the object named id
func (m *MinIO) Delete(ctx context.Context, id string) error {
	// RemoveObject succeeds for missing keys, so stat first to report ErrNotFound
	if _, err := m.client.StatObject(ctx, m.bucket, id, minio.StatObjectOptions{}); err != nil {
		return m.translate(err, "stat")
	}

	if err := m.client.RemoveObject(ctx, m.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return m.translate(err, "delete")
	}

	m.logger.Debug("Blob deleted", slog.String("blob_id", id))
	return nil
}

func (m *MinIO) translate(err error, op string) error {
	if minio.ToErrorResponse(err).Code == noSuchKey {
		return ErrNotFound
	}
	return fmt.Errorf("failed to %s object: %w", op, err)
}
