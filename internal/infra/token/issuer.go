package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer mints tokens in the format the auth service produces. The gateway
// itself never issues tokens; tests and the e2e tool use this.
type Issuer struct {
	key              []byte
	authoritiesClaim string
	method           jwt.SigningMethod
	now              func() time.Time
}

func NewIssuer(key []byte, authoritiesClaim string) *Issuer {
	return &Issuer{
		key:              key,
		authoritiesClaim: authoritiesClaim,
		method:           jwt.SigningMethodHS256,
		now:              time.Now,
	}
}

// WithIssuedAt returns a copy that stamps tokens as issued at t.
func (i *Issuer) WithIssuedAt(t time.Time) *Issuer {
	cp := *i
	cp.now = func() time.Time { return t }
	return &cp
}

func (i *Issuer) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	issuedAt := i.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": jwt.NewNumericDate(issuedAt),
		"exp": jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	if roles != nil {
		claims[i.authoritiesClaim] = roles
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
