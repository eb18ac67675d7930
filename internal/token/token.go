// Package token implements the stateless bearer token service: issuing and
// validating signed access and refresh tokens. It performs no I/O.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/careslot/careslot/internal/config"
	"github.com/careslot/careslot/internal/errors"
)

// Kind discriminates access tokens from refresh tokens. A token carries
// exactly one kind; refresh tokens never authenticate API calls directly.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims is the wire shape of a token payload:
// {sub, type, role?, scopes?, email?, iat, exp, jti}.
type Claims struct {
	Kind   Kind     `json:"type"`
	Role   string   `json:"role,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Email  string   `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IsAccess reports whether c is an access token's claims.
func IsAccess(c *Claims) bool { return c != nil && c.Kind == KindAccess }

// IsRefresh reports whether c is a refresh token's claims.
func IsRefresh(c *Claims) bool { return c != nil && c.Kind == KindRefresh }

// Issuer signs and validates tokens with a shared HS256 secret.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer builds an Issuer from the injected auth configuration. A missing
// signing secret is a fatal misconfiguration surfaced here, not at issue time.
func NewIssuer(cfg config.AuthConfig) (*Issuer, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.Internal("jwt signing secret not configured", nil)
	}
	return &Issuer{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTTL(),
		refreshTTL: cfg.RefreshTTL(),
		now:        time.Now,
	}, nil
}

// AccessLifetime returns the configured access token lifetime.
func (i *Issuer) AccessLifetime() time.Duration { return i.accessTTL }

// Option customises a single issued token.
type Option func(*Claims, *time.Duration)

// WithRole sets the role claim.
func WithRole(role string) Option {
	return func(c *Claims, _ *time.Duration) { c.Role = role }
}

// WithEmail sets the email claim.
func WithEmail(email string) Option {
	return func(c *Claims, _ *time.Duration) { c.Email = email }
}

// WithScopes sets the scopes claim.
func WithScopes(scopes []string) Option {
	return func(c *Claims, _ *time.Duration) { c.Scopes = scopes }
}

// WithTTL overrides the default lifetime for this token.
func WithTTL(ttl time.Duration) Option {
	return func(_ *Claims, d *time.Duration) { *d = ttl }
}

// IssueAccess signs a short-lived access token for the subject.
func (i *Issuer) IssueAccess(subject string, opts ...Option) (string, error) {
	return i.issue(subject, KindAccess, i.accessTTL, opts)
}

// IssueRefresh signs a long-lived refresh token for the subject.
func (i *Issuer) IssueRefresh(subject string, opts ...Option) (string, error) {
	return i.issue(subject, KindRefresh, i.refreshTTL, opts)
}

func (i *Issuer) issue(subject string, kind Kind, ttl time.Duration, opts []Option) (string, error) {
	now := i.now()
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
			ID:      uuid.NewString(),
		},
	}
	for _, opt := range opts {
		opt(claims, &ttl)
	}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", errors.Internal("sign token", err)
	}
	return signed, nil
}

// Validate verifies the signature and expiry of a token and returns its
// claims. Any failure, including missing mandatory claims, surfaces as
// InvalidToken.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.InvalidToken(nil)
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("alg", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.Subject == "" || claims.Kind == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing mandatory claims")
	}

	return claims, nil
}
