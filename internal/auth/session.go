package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSessionTTL = 6 * time.Hour

// SessionUser carries the identity fields embedded into a session token.
type SessionUser struct {
	ID             string
	Email          string
	OrganizationID string
	Role           string
	Status         string
}

// SessionClaims represents the JWT claims carried by a session token.
type SessionClaims struct {
	Email          string `json:"email"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	Status         string `json:"status"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens. It is constructed once
// at process start and injected; the signing secret never lives in package
// state.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithSessionTTL overrides the default 6h session lifetime.
func WithSessionTTL(ttl time.Duration) IssuerOption {
	return func(i *TokenIssuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *TokenIssuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer with the given signing secret.
func NewTokenIssuer(secret string, opts ...IssuerOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	issuer := &TokenIssuer{
		secret: []byte(secret),
		issuer: "orgmesh",
		ttl:    defaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue signs a session token for the user. The token is opaque to the client;
// the authn middleware is the only consumer that decodes it.
func (i *TokenIssuer) Issue(user SessionUser) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, errors.New("auth: user id is required")
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := SessionClaims{
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		Status:         user.Status,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies signature and registered claims and returns the decoded
// session claims. Every failure collapses to ErrInvalidToken.
func (i *TokenIssuer) Parse(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{},
		func(t *jwt.Token) (any, error) {
			if t.Method != jwt.SigningMethodHS256 {
				return nil, ErrInvalidToken
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
