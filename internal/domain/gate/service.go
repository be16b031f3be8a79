package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/astro-web3/records-gateway/internal/domain/policy"
	"github.com/astro-web3/records-gateway/internal/infra/revocation"
)

const bearerScheme = "bearer"

type Service interface {
	Authorize(ctx context.Context, req Request) (*Decision, error)
}

type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type RoutePolicy interface {
	IsOpen(path string) bool
	Requirement(path string) policy.Requirement
}

type service struct {
	verifier   TokenVerifier
	revocation RevocationChecker
	policy     RoutePolicy
}

func NewService(verifier TokenVerifier, revocation RevocationChecker, routePolicy RoutePolicy) Service {
	return &service{
		verifier:   verifier,
		revocation: revocation,
		policy:     routePolicy,
	}
}

// Authorize runs the gate for one request. Every rejection is returned as *Error.
func (s *service) Authorize(ctx context.Context, req Request) (*Decision, error) {
	if s.policy.IsOpen(req.Path) {
		return &Decision{Open: true}, nil
	}

	token, ok := BearerToken(req.Authorization)
	if !ok {
		return nil, reject(KindMissingAuthorizationHeader, nil)
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, reject(KindInvalidToken, err)
	}

	revoked, err := s.revocation.IsRevoked(ctx, token)
	switch {
	case errors.Is(err, revocation.ErrTokenNotFound):
		return nil, reject(KindTokenNotFound, err)
	case err != nil:
		return nil, reject(KindStoreUnavailable, err)
	case revoked:
		return nil, reject(KindLoggedOutToken, nil)
	}

	identity := &Identity{Username: claims.Subject, Roles: claims.Roles}

	requirement := s.policy.Requirement(req.Path)
	if requirement.Deny {
		return nil, reject(KindInsufficientRoles, fmt.Errorf("no policy entry for %s", req.Path))
	}
	if requirement.RequiresRoles() {
		if len(claims.Roles) == 0 {
			return nil, reject(KindMissingRoles, nil)
		}
		if !requirement.Allows(claims.Roles) {
			return nil, reject(KindInsufficientRoles, nil)
		}
	}

	return &Decision{Identity: identity}, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
