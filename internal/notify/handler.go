package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/domain"
	"github.com/cuongbtq/transcode-pipeline/internal/queue"
)

const (
	// Subject of every download notification
	Subject = "MP3 Download Ready"

	DefaultSendTimeout = 30 * time.Second
)

// Body returns the notification text for a result blob
func Body(resultBlobID string) string {
	return fmt.Sprintf("Your MP3 file (ID: %s) is now ready for download!", resultBlobID)
}

// Handler processes notify-queue deliveries
type Handler struct {
	mailer  Mailer
	sender  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHandler creates a new notification handler
func NewHandler(mailer Mailer, sender string, timeout time.Duration, logger *slog.Logger) *Handler {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Handler{
		mailer:  mailer,
		sender:  sender,
		timeout: timeout,
		logger:  logger,
	}
}

// Handle sends the download notification described by the delivery
func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	job, err := domain.DecodeNotifyJob(d.Body)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err = h.mailer.Send(sendCtx, Mail{
		From:    h.sender,
		To:      job.Recipient,
		Subject: Subject,
		Body:    Body(job.ResultBlobID),
	})
	if errors.Is(err, ErrPermanentDelivery) {
		return domain.Permanent(err)
	}
	if err != nil {
		return domain.Transient(err)
	}

	h.logger.Info("Download notification sent",
		slog.String("message_id", d.MessageID),
		slog.String("mp3_fid", job.ResultBlobID),
		slog.String("user_email", job.Recipient),
	)
	return nil
}
