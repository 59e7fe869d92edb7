package admission

import (
	"errors"
	"fmt"
)

// Admission failure kinds. Callers match them with errors.Is.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrQueueUnavailable   = errors.New("queue unavailable")
)

// AdmissionError reports why an upload was not accepted
type AdmissionError struct {
	Kind error
	Err  error
}

func (e *AdmissionError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Is matches the failure kind
func (e *AdmissionError) Is(target error) bool {
	return target == e.Kind
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

func newError(kind, err error) *AdmissionError {
	return &AdmissionError{Kind: kind, Err: err}
}
