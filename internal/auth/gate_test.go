package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-hs256-signing")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestGate(t *testing.T, clock *fakeClock) *Gate {
	t.Helper()
	gate, err := NewGate(testSecret, WithClock(clock.Now))
	require.NoError(t, err)
	return gate
}

func TestNewGate_RequiresSecret(t *testing.T) {
	gate, err := NewGate(nil)
	require.Error(t, err)
	assert.Nil(t, gate)
}

func TestGate_IssueAndVerify(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, clock)

	issued, token, err := gate.Issue("admin@x.com", true)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.Equal(t, "admin@x.com", issued.Subject)
	assert.True(t, issued.IsAdmin)
	assert.Equal(t, clock.now, issued.IssuedAt.UTC())
	assert.Equal(t, clock.now.Add(24*time.Hour), issued.ExpiresAt.UTC())

	clock.now = clock.now.Add(23 * time.Hour)
	verified, err := gate.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, issued.Subject, verified.Subject)
	assert.Equal(t, issued.IsAdmin, verified.IsAdmin)
	assert.True(t, issued.ExpiresAt.Equal(verified.ExpiresAt))
}

func TestGate_IssueRequiresSubject(t *testing.T) {
	gate := newTestGate(t, &fakeClock{now: time.Now()})

	_, _, err := gate.Issue(" ", false)
	require.Error(t, err)
}

func TestGate_VerifyFailures(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, clock)

	_, valid, err := gate.Issue("admin@x.com", true)
	require.NoError(t, err)

	otherGate, err := NewGate([]byte("another-secret"), WithClock(clock.Now))
	require.NoError(t, err)
	_, foreign, err := otherGate.Issue("admin@x.com", true)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"user_email": "admin@x.com",
		"is_admin":   true,
		"exp":        clock.now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		advance    time.Duration
		wantReason Reason
	}{
		{name: "expired", token: valid, advance: 25 * time.Hour, wantReason: ReasonExpired},
		{name: "tampered signature", token: tampered, wantReason: ReasonMalformed},
		{name: "signed with another secret", token: foreign, wantReason: ReasonMalformed},
		{name: "alg none", token: unsigned, wantReason: ReasonMalformed},
		{name: "garbage", token: "not-a-token", wantReason: ReasonMalformed},
		{name: "empty", token: "", wantReason: ReasonMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := clock.now
			clock.now = clock.now.Add(tt.advance)
			defer func() { clock.now = start }()

			claim, err := gate.Verify(tt.token)

			require.Error(t, err)
			assert.Equal(t, Claim{}, claim)
			assert.ErrorIs(t, err, ErrUnauthenticated)
			assert.Equal(t, ErrUnauthenticated.Error(), err.Error())

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.wantReason, authErr.Reason)
		})
	}
}

func TestGate_ExpiredAndTamperedLookTheSame(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	gate := newTestGate(t, clock)

	_, token, err := gate.Issue("user@x.com", false)
	require.NoError(t, err)

	_, tamperedErr := gate.Verify(token + "x")

	clock.now = clock.now.Add(48 * time.Hour)
	_, expiredErr := gate.Verify(token)

	require.Error(t, tamperedErr)
	require.Error(t, expiredErr)
	assert.Equal(t, tamperedErr.Error(), expiredErr.Error())
}

func TestWithTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	gate, err := NewGate(testSecret, WithClock(clock.Now), WithTTL(time.Hour))
	require.NoError(t, err)

	claim, token, err := gate.Issue("user@x.com", false)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(time.Hour), claim.ExpiresAt.UTC())

	clock.now = clock.now.Add(2 * time.Hour)
	_, err = gate.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header    string
		wantToken string
		wantOK    bool
	}{
		{header: "Bearer abc.def.ghi", wantToken: "abc.def.ghi", wantOK: true},
		{header: "bearer abc", wantToken: "abc", wantOK: true},
		{header: "Basic dXNlcjpwYXNz", wantOK: false},
		{header: "Bearer", wantOK: false},
		{header: "", wantOK: false},
		{header: "Bearer a b", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, ok := BearerToken(tt.header)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}
