package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/astro-web3/records-gateway/internal/domain/gate"
	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the HS256 minimum; shorter secrets are rejected at construction.
const MinKeyBytes = 32

// DefaultClockSkew tolerates an issuer clock running slightly ahead. It only
// applies to iat; exp is always checked strictly.
const DefaultClockSkew = 30 * time.Second

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWeakKey      = errors.New("signing key shorter than algorithm minimum")
)

// hmacMinKeyBytes follows RFC 7518 §3.2: key at least as long as the hash output.
var hmacMinKeyBytes = []struct {
	alg string
	min int
}{
	{alg: jwt.SigningMethodHS256.Alg(), min: 32},
	{alg: jwt.SigningMethodHS384.Alg(), min: 48},
	{alg: jwt.SigningMethodHS512.Alg(), min: 64},
}

type Option func(*Validator)

// WithClockSkew sets how far in the future iat may be. Negative values are treated as zero.
func WithClockSkew(d time.Duration) Option {
	return func(v *Validator) {
		v.clockSkew = max(d, 0)
	}
}

// WithClock overrides the time source used for exp/iat checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator verifies HMAC-signed tokens. It holds only immutable state and is
// safe for concurrent use.
type Validator struct {
	key              []byte
	authoritiesClaim string
	methods          []string
	now              func() time.Time
	clockSkew        time.Duration
}

func NewValidator(key []byte, authoritiesClaim string, opts ...Option) (*Validator, error) {
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakKey, len(key), MinKeyBytes)
	}
	if authoritiesClaim == "" {
		return nil, errors.New("authorities claim name is required")
	}

	methods := make([]string, 0, len(hmacMinKeyBytes))
	for _, m := range hmacMinKeyBytes {
		if len(key) >= m.min {
			methods = append(methods, m.alg)
		}
	}

	v := &Validator{
		key:              append([]byte(nil), key...),
		authoritiesClaim: authoritiesClaim,
		methods:          methods,
		now:              time.Now,
		clockSkew:        DefaultClockSkew,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks signature, expiry and issued-at. Every failure is reported as
// ErrInvalidToken so callers cannot tell an expired token from a forged one.
func (v *Validator) Verify(tokenString string) (*gate.Claims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}

	out := &gate.Claims{
		Subject:   subject,
		Roles:     authorities(claims[v.authoritiesClaim]),
		ExpiresAt: exp.Time,
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if iat != nil {
		if iat.After(v.now().Add(v.clockSkew)) {
			return nil, fmt.Errorf("%w: issued in the future", ErrInvalidToken)
		}
		out.IssuedAt = iat.Time
	}
	return out, nil
}

func (v *Validator) keyFunc(_ *jwt.Token) (any, error) {
	return v.key, nil
}

// authorities accepts a JSON array of strings or one comma-separated string.
func authorities(raw any) []string {
	var roles []string
	switch val := raw.(type) {
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				roles = appendRole(roles, s)
			}
		}
	case []string:
		for _, s := range val {
			roles = appendRole(roles, s)
		}
	case string:
		for _, s := range strings.Split(val, ",") {
			roles = appendRole(roles, s)
		}
	}
	return roles
}

func appendRole(roles []string, role string) []string {
	if role = strings.TrimSpace(role); role != "" {
		return append(roles, role)
	}
	return roles
}
