// Package token mints and verifies the short-lived signed access tokens.
// Verification never consults storage, so a token stays valid until it expires.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/aiclub/website-backend/services"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is used when Config.AccessTTL is zero
const DefaultAccessTTL = 30 * time.Minute

// Config is the explicitly constructed signing configuration
type Config struct {
	Secret    []byte
	Algorithm string // HS256, HS384 or HS512
	AccessTTL time.Duration
	Issuer    string
}

// Issuer signs and verifies access tokens with a shared HMAC secret
type Issuer struct {
	secret    []byte
	method    jwt.SigningMethod
	accessTTL time.Duration
	issuer    string
	now       func() time.Time
}

// Option configures an Issuer
type Option func(*Issuer)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer validates cfg and creates an Issuer
func NewIssuer(cfg Config, opts ...Option) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("token: unsupported algorithm %q", cfg.Algorithm)
	}

	ttl := cfg.AccessTTL
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}

	i := &Issuer{
		secret:    cfg.Secret,
		method:    method,
		accessTTL: ttl,
		issuer:    cfg.Issuer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// AccessTTL returns the default lifetime of issued tokens
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// Issue signs {sub, exp=now+ttl}. A non-positive ttl uses the configured default.
func (i *Issuer) Issue(subject uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	if subject == uuid.Nil {
		return "", time.Time{}, errors.New("token: subject is required")
	}
	if ttl <= 0 {
		ttl = i.accessTTL
	}

	now := i.now()
	expiresAt := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    i.issuer,
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the subject user id.
// Every failure is reported as services.ErrInvalidToken.
func (i *Issuer) Verify(signed string) (uuid.UUID, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		options = append(options, jwt.WithIssuer(i.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.NewParser(options...).ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	})
	if err != nil {
		return uuid.Nil, services.ErrInvalidToken.Wrap(err)
	}

	if claims.Subject == "" {
		return uuid.Nil, services.ErrInvalidToken.Wrap(errors.New("missing subject"))
	}
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, services.ErrInvalidToken.Wrap(err)
	}
	return subject, nil
}
