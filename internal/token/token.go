// Package token implements single-use, time-limited opaque tokens tied to a
// user. Password reset, password setup and email verification are three
// independent purposes sharing one contract.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"orgmesh.io/internal/ids"
	"orgmesh.io/internal/obs"
)

// Kind selects which of the three parallel token tables a record lives in.
type Kind string

const (
	KindPasswordReset     Kind = "password_reset"
	KindPasswordSetup     Kind = "password_setup"
	KindEmailVerification Kind = "email_verification"
)

// Valid reports whether the kind is one of the three known purposes.
func (k Kind) Valid() bool {
	switch k {
	case KindPasswordReset, KindPasswordSetup, KindEmailVerification:
		return true
	}
	return false
}

const (
	StatusPending = "pending"
	StatusUsed    = "used"
)

// Token is a persisted single-use credential.
type Token struct {
	ID        string
	UserID    string
	Kind      Kind
	Value     string
	Status    string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

var (
	// ErrNotFound means no record matches the presented value.
	ErrNotFound = errors.New("token: not found")
	// ErrAlreadyUsed means the token was consumed earlier; the user needs a
	// fresh link, re-requesting won't help.
	ErrAlreadyUsed = errors.New("token: already used")
	// ErrExpired means the token outlived its ttl; the user should request a
	// new link.
	ErrExpired = errors.New("token: expired")
	// ErrConflict is returned by stores on a value collision.
	ErrConflict = errors.New("token: value conflict")
)

// Store is the persistence contract for token records.
type Store interface {
	Insert(ctx context.Context, tok Token) error
	FindByValue(ctx context.Context, kind Kind, value string) (Token, error)
	// MarkUsed sets used_at/status on a still-pending record. It returns
	// ErrAlreadyUsed when the record was consumed concurrently and
	// ErrNotFound when it does not exist.
	MarkUsed(ctx context.Context, kind Kind, value string, usedAt time.Time) error
	// DeleteExpired removes expired unused records across all kinds.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service issues, validates and retires tokens.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a token service over a store.
func NewService(store Store, opts ...ServiceOption) *Service {
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// issueAttempts bounds regeneration on the (practically unreachable) case of
// a random value collision.
const issueAttempts = 3

// Issue generates a 256-bit random opaque value and persists it with the
// given ttl.
func (s *Service) Issue(ctx context.Context, kind Kind, userID string, ttl time.Duration) (Token, error) {
	if !kind.Valid() {
		return Token{}, fmt.Errorf("token: unknown kind %q", kind)
	}
	if userID == "" {
		return Token{}, errors.New("token: user id is required")
	}
	if ttl <= 0 {
		return Token{}, errors.New("token: ttl must be greater than zero")
	}

	now := s.now().UTC()
	var lastErr error
	for attempt := 0; attempt < issueAttempts; attempt++ {
		value, err := opaqueValue()
		if err != nil {
			return Token{}, err
		}
		tok := Token{
			ID:        ids.New(),
			UserID:    userID,
			Kind:      kind,
			Value:     value,
			Status:    StatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := s.store.Insert(ctx, tok); err != nil {
			if errors.Is(err, ErrConflict) {
				lastErr = err
				continue
			}
			return Token{}, err
		}
		return tok, nil
	}
	return Token{}, lastErr
}

// Validate is a pure lookup with no side effects. Only a token that is unused
// AND unexpired is valid. A used marker wins over expiry so the caller can
// distinguish the two remediations.
func (s *Service) Validate(ctx context.Context, kind Kind, value string) (Token, error) {
	if value == "" {
		return Token{}, ErrNotFound
	}
	tok, err := s.store.FindByValue(ctx, kind, value)
	if err != nil {
		return Token{}, err
	}
	if tok.UsedAt != nil || tok.Status == StatusUsed {
		return Token{}, ErrAlreadyUsed
	}
	if s.now().After(tok.ExpiresAt) {
		return Token{}, ErrExpired
	}
	return tok, nil
}

// Consume marks the token used. Consuming an invalid or nonexistent token
// fails with the same taxonomy as Validate instead of silently succeeding.
func (s *Service) Consume(ctx context.Context, kind Kind, value string) (Token, error) {
	tok, err := s.Validate(ctx, kind, value)
	if err != nil {
		return Token{}, err
	}
	usedAt := s.now().UTC()
	if err := s.store.MarkUsed(ctx, kind, value, usedAt); err != nil {
		return Token{}, err
	}
	tok.Status = StatusUsed
	tok.UsedAt = &usedAt
	return tok, nil
}

// SweepExpired bulk-deletes records past their expiry. It is safe to run
// concurrently with issuance and validation; the narrow race in which a token
// expires between a caller's Validate and Consume is accepted.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, now.UTC())
	if err != nil {
		return 0, err
	}
	obs.TokensSwept(n)
	return n, nil
}

// opaqueValue returns 32 random bytes base64url-encoded, comfortably above
// the 128-bit entropy floor.
func opaqueValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
