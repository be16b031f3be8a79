// Package policy maps request paths to the roles allowed to reach them.
//
// The table is built once at startup and is read-only afterwards, so a single
// Policy value is shared by all requests without locking.
package policy

import (
	"strings"
)

// Fallback controls what happens when a path has no exact entry.
type Fallback int

const (
	// FallbackFirstSegment retries the lookup with the first path segment,
	// so /users/42 resolves through the /users entry.
	FallbackFirstSegment Fallback = iota
	// FallbackExact only honours exact path entries.
	FallbackExact
)

// Unmatched controls what an authenticated caller gets on a path with no entry.
type Unmatched int

const (
	// UnmatchedAuthenticated lets any authenticated caller through.
	UnmatchedAuthenticated Unmatched = iota
	// UnmatchedDeny rejects the caller as lacking roles.
	UnmatchedDeny
)

// Source records which lookup produced a Requirement.
type Source string

const (
	SourceExact        Source = "exact"
	SourceFirstSegment Source = "first_segment"
	SourceNone         Source = "none"
)

const rolePrefix = "ROLE_"

// Requirement is the resolved authorization requirement for one path.
type Requirement struct {
	Roles  []string
	Source Source
	// Deny is set when the path has no entry and the policy denies unmatched paths.
	Deny bool
}

// RequiresRoles reports whether the caller must present at least one of Roles.
func (r Requirement) RequiresRoles() bool {
	return len(r.Roles) > 0
}

type Options struct {
	Fallback  Fallback
	Unmatched Unmatched
	// OpenEndpoints are substrings; a path containing any of them skips authentication.
	OpenEndpoints []string
}

type Policy struct {
	routes        map[string][]string
	openEndpoints []string
	fallback      Fallback
	unmatched     Unmatched
}

// New builds a Policy from a path -> roles table. Paths are stored without a
// trailing slash and role names are normalised.
func New(routes map[string][]string, opts Options) *Policy {
	table := make(map[string][]string, len(routes))
	for path, roles := range routes {
		normalised := make([]string, 0, len(roles))
		for _, r := range roles {
			if n := NormalizeRole(r); n != "" {
				normalised = append(normalised, n)
			}
		}
		table[cleanPath(path)] = normalised
	}

	open := make([]string, 0, len(opts.OpenEndpoints))
	for _, p := range opts.OpenEndpoints {
		if p = strings.TrimSpace(p); p != "" {
			open = append(open, p)
		}
	}

	return &Policy{
		routes:        table,
		openEndpoints: open,
		fallback:      opts.Fallback,
		unmatched:     opts.Unmatched,
	}
}

// IsOpen reports whether path bypasses authentication entirely.
func (p *Policy) IsOpen(path string) bool {
	for _, pattern := range p.openEndpoints {
		if strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// RolesFor returns the roles permitted on path, or nil when none are required.
func (p *Policy) RolesFor(path string) []string {
	return p.Requirement(path).Roles
}

// Requirement resolves path to its requirement: exact entry first, then the
// first segment when the fallback allows it.
func (p *Policy) Requirement(path string) Requirement {
	path = cleanPath(path)

	if roles, ok := p.routes[path]; ok {
		return Requirement{Roles: roles, Source: SourceExact}
	}

	if p.fallback == FallbackFirstSegment {
		if seg := firstSegment(path); seg != "" && seg != path {
			if roles, ok := p.routes[seg]; ok {
				return Requirement{Roles: roles, Source: SourceFirstSegment}
			}
		}
	}

	return Requirement{Source: SourceNone, Deny: p.unmatched == UnmatchedDeny}
}

// Allows reports whether any of the granted roles satisfies the requirement.
// A requirement with no roles is satisfied by anyone not denied outright.
func (r Requirement) Allows(granted []string) bool {
	if r.Deny {
		return false
	}
	if !r.RequiresRoles() {
		return true
	}
	for _, g := range granted {
		g = NormalizeRole(g)
		for _, want := range r.Roles {
			if g == want {
				return true
			}
		}
	}
	return false
}

// NormalizeRole trims whitespace and a leading ROLE_ prefix.
func NormalizeRole(role string) string {
	role = strings.TrimSpace(role)
	return strings.TrimPrefix(role, rolePrefix)
}

func cleanPath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// firstSegment returns "/users" for "/users/42".
func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return ""
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}
