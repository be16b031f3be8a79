package gate

import (
	"errors"
	"time"
)

// Kind classifies why the gate rejected a request.
type Kind int

const (
	KindMissingAuthorizationHeader Kind = iota + 1
	KindInvalidToken
	KindTokenNotFound
	KindLoggedOutToken
	KindMissingRoles
	KindInsufficientRoles
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindMissingAuthorizationHeader:
		return "missing_authorization_header"
	case KindInvalidToken:
		return "invalid_token"
	case KindTokenNotFound:
		return "token_not_found"
	case KindLoggedOutToken:
		return "logged_out_token"
	case KindMissingRoles:
		return "missing_roles"
	case KindInsufficientRoles:
		return "insufficient_roles"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Message is the client-facing text for a rejection kind.
func (k Kind) Message() string {
	switch k {
	case KindMissingAuthorizationHeader:
		return "missing or malformed authorization header"
	case KindInvalidToken:
		return "invalid or expired token"
	case KindTokenNotFound:
		return "token not found"
	case KindLoggedOutToken:
		return "token has been logged out"
	case KindMissingRoles:
		return "token carries no roles"
	case KindInsufficientRoles:
		return "insufficient role for this resource"
	case KindStoreUnavailable:
		return "token status unavailable"
	default:
		return "request rejected"
	}
}

// Error is a terminal rejection produced by one gate step.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func reject(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the rejection kind from err.
func KindOf(err error) (Kind, bool) {
	var gateErr *Error
	if errors.As(err, &gateErr) {
		return gateErr.Kind, true
	}
	return 0, false
}

// Claims are derived from a verified token and never persisted.
type Claims struct {
	Subject   string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is what the gate hands downstream for an authenticated request.
type Identity struct {
	Username string
	Roles    []string
}

// Decision is the outcome of a request that was allowed through.
// Identity is nil for open endpoints.
type Decision struct {
	Open     bool
	Identity *Identity
}

// Request carries the parts of an inbound HTTP request the gate looks at.
type Request struct {
	Path          string
	Authorization string
}
