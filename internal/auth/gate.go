package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long an issued claim stays valid
const DefaultTTL = 24 * time.Hour

// ErrUnauthenticated is matched by every verification failure
var ErrUnauthenticated = errors.New("invalid or expired token")

// Reason says why a token was rejected. It is meant for logs only; callers
// see the same ErrUnauthenticated for every reason.
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonExpired   Reason = "expired"
	ReasonMalformed Reason = "malformed"
)

// AuthError is returned by Verify
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	return ErrUnauthenticated.Error()
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthenticated
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Claim is a verified assertion of identity and privilege
type Claim struct {
	Subject   string    `json:"user_email"`
	IsAdmin   bool      `json:"is_admin"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenClaims struct {
	Email   string `json:"user_email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Gate issues and verifies HS256 signed claims. It holds no connections and
// never blocks.
type Gate struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes a Gate
type Option func(*Gate)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock injects the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGate creates a Gate signing with secret
func NewGate(secret []byte, opts ...Option) (*Gate, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth secret is required")
	}

	g := &Gate{
		secret: secret,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue builds and signs a claim for subject
func (g *Gate) Issue(subject string, isAdmin bool) (Claim, string, error) {
	if strings.TrimSpace(subject) == "" {
		return Claim{}, "", fmt.Errorf("subject is required")
	}

	now := g.now()
	claims := tokenClaims{
		Email:   subject,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return Claim{}, "", fmt.Errorf("failed to sign token: %w", err)
	}

	return toClaim(&claims), signed, nil
}

// Verify checks the signature and expiry of token
func (g *Gate) Verify(token string) (Claim, error) {
	if strings.TrimSpace(token) == "" {
		return Claim{}, &AuthError{Reason: ReasonMissing}
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claim{}, &AuthError{Reason: ReasonExpired, Err: err}
		}
		return Claim{}, &AuthError{Reason: ReasonMalformed, Err: err}
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.Email == "" {
		return Claim{}, &AuthError{Reason: ReasonMalformed, Err: errors.New("invalid token claims")}
	}

	return toClaim(claims), nil
}

func toClaim(c *tokenClaims) Claim {
	claim := Claim{
		Subject: c.Email,
		IsAdmin: c.IsAdmin,
	}
	if c.IssuedAt != nil {
		claim.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		claim.ExpiresAt = c.ExpiresAt.Time
	}
	return claim
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
