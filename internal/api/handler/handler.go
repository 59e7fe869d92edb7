package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/transcode-pipeline/internal/admission"
	"github.com/cuongbtq/transcode-pipeline/internal/api/model"
	"github.com/cuongbtq/transcode-pipeline/internal/api/storage"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/cuongbtq/transcode-pipeline/internal/blobstore"
)

const ContextClaimKey = "claim"

// TokenGate issues and verifies bearer tokens
type TokenGate interface {
	Issue(subject string, isAdmin bool) (auth.Claim, string, error)
	Verify(token string) (auth.Claim, error)
}

type Admitter interface {
	Admit(ctx context.Context, bearer string, files []admission.Upload) (admission.JobAccepted, error)
}

type BlobReader interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Stat(ctx context.Context, id string) (blobstore.Info, error)
}

type DeadLetterLister interface {
	ListDeadLetters(ctx context.Context, filter storage.DeadLetterFilter) ([]model.DeadLetter, error)
}

// HealthCheck reports a dependency as down by returning an error
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Gate           TokenGate
	Credentials    auth.CredentialChecker
	Admission      Admitter
	Blobs          BlobReader
	DeadLetters    DeadLetterLister
	HealthChecks   map[string]HealthCheck
	MaxUploadBytes int64
}
