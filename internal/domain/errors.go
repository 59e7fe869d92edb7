package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedJob is returned when a job payload cannot be decoded or misses required fields
	ErrMalformedJob = errors.New("malformed job payload")

	// ErrSourceMissing is returned when the blob referenced by a job no longer exists
	ErrSourceMissing = errors.New("source blob not found")
)

// JobErrorKind tells a worker whether a failed delivery may be retried
type JobErrorKind int

const (
	// KindTransient failures are requeued and redelivered by the broker
	KindTransient JobErrorKind = iota
	// KindPermanent failures are dead-lettered without requeue
	KindPermanent
)

func (k JobErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// JobError wraps a worker failure with its retry classification
type JobError struct {
	Kind JobErrorKind
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s job error: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &JobError{Kind: KindTransient, Err: err}
}

// Permanent marks err as a poison condition that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &JobError{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Kind == KindPermanent
	}
	return false
}
