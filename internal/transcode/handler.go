package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/blobstore"
	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
	"github.com/google/uuid"
)

// ContentTypeMP3 is stored with every result blob
const ContentTypeMP3 = "audio/mpeg"

// Config bounds each external call made while handling a job
type Config struct {
	StoreTimeout     time.Duration
	TranscodeTimeout time.Duration
	PublishTimeout   time.Duration
}

// Handler processes transcode-queue deliveries
type Handler struct {
	store      blobstore.Store
	transcoder Transcoder
	publisher  queue.Publisher
	config     Config
	logger     *slog.Logger
}

// DefaultConfig returns the timeouts used for unset fields
func DefaultConfig() Config {
	return Config{
		StoreTimeout:     30 * time.Second,
		TranscodeTimeout: 5 * time.Minute,
		PublishTimeout:   10 * time.Second,
	}
}

// NewHandler creates a new transcode job handler. Zero timeouts fall back to DefaultConfig.
func NewHandler(store blobstore.Store, transcoder Transcoder, publisher queue.Publisher, cfg Config, logger *slog.Logger) *Handler {
	def := DefaultConfig()
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.TranscodeTimeout <= 0 {
		cfg.TranscodeTimeout = def.TranscodeTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}

	return &Handler{
		store:      store,
		transcoder: transcoder,
		publisher:  publisher,
		config:     cfg,
		logger:     logger,
	}
}

// Handle converts the job's source blob to MP3, stores the result and
// publishes the NotifyJob. A nil return means the NotifyJob is durably
// enqueued and the delivery may be acknowledged.
func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	logger := h.logger.With(
		slog.String("message_id", d.MessageID),
		slog.Bool("redelivered", d.Redelivered),
	)
	logger.Debug("Job state", slog.String("state", domain.JobStateReceived))

	job, err := domain.DecodeTranscodeJob(d.Body)
	if err != nil {
		return err
	}
	logger = logger.With(
		slog.String("video_fid", job.SourceBlobID),
		slog.String("user_email", job.Requester),
	)

	logger.Debug("Job state", slog.String("state", domain.JobStateFetching))
	source, err := h.fetch(ctx, job.SourceBlobID)
	if err != nil {
		return err
	}

	logger.Debug("Job state", slog.String("state", domain.JobStateTranscoding))
	transcodeCtx, cancel := context.WithTimeout(ctx, h.config.TranscodeTimeout)
	audio, err := h.transcoder.Transcode(transcodeCtx, source)
	cancel()
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return domain.Permanent(err)
		}
		return domain.Transient(fmt.Errorf("failed to transcode: %w", err))
	}

	logger.Debug("Job state", slog.String("state", domain.JobStateStoring))
	storeCtx, cancel := context.WithTimeout(ctx, h.config.StoreTimeout)
	resultID, err := h.store.Put(storeCtx, audio, ContentTypeMP3)
	cancel()
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to store result: %w", err))
	}
	logger = logger.With(slog.String("mp3_fid", resultID))

	logger.Debug("Job state", slog.String("state", domain.JobStatePublishing))
	body, err := job.NotifyJob(resultID).Encode()
	if err != nil {
		return domain.Permanent(err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, h.config.PublishTimeout)
	err = h.publisher.Publish(publishCtx, domain.NotifyQueue, queue.Message{ID: uuid.NewString(), Body: body})
	cancel()
	if err != nil {
		// The NotifyJob may still have reached the queue, so the result blob stays.
		return domain.Transient(fmt.Errorf("failed to publish notify job: %w", err))
	}

	logger.Info("Transcode job completed", slog.Int("mp3_size", len(audio)))
	return nil
}

func (h *Handler) fetch(ctx context.Context, id string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.StoreTimeout)
	defer cancel()

	data, err := h.store.Get(ctx, id)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, domain.Permanent(fmt.Errorf("%w: %s", domain.ErrSourceMissing, id))
	}
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("failed to fetch source: %w", err))
	}
	return data, nil
}
