package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobErrorClassification(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{name: "permanent", err: Permanent(base), wantPermanent: true},
		{name: "transient", err: Transient(base), wantPermanent: false},
		{name: "unclassified defaults to transient", err: base, wantPermanent: false},
		{name: "wrapped permanent", err: fmt.Errorf("handler: %w", Permanent(base)), wantPermanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPermanent, IsPermanent(tt.err))
			assert.ErrorIs(t, tt.err, base)
		})
	}
}

func TestJobErrorNilPassthrough(t *testing.T) {
	assert.NoError(t, Transient(nil))
	assert.NoError(t, Permanent(nil))
}

func TestJobError_Message(t *testing.T) {
	err := Permanent(ErrSourceMissing)
	assert.Equal(t, "permanent job error: source blob not found", err.Error())
}
