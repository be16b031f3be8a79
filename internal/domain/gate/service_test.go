package gate_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/astro-web3/records-gateway/internal/domain/gate"
	"github.com/astro-web3/records-gateway/internal/domain/policy"
	"github.com/astro-web3/records-gateway/internal/infra/revocation"
)

type mockVerifier struct {
	claims map[string]*gate.Claims
	calls  int
}

func (m *mockVerifier) Verify(token string) (*gate.Claims, error) {
	m.calls++
	if c, ok := m.claims[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad signature")
}

type mockRevocation struct {
	revoked map[string]bool
	err     error
	calls   int
}

func (m *mockRevocation) IsRevoked(_ context.Context, token string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	revoked, ok := m.revoked[token]
	if !ok {
		return false, revocation.ErrTokenNotFound
	}
	return revoked, nil
}

func newFixture() (*mockVerifier, *mockRevocation, gate.Service) {
	verifier := &mockVerifier{claims: map[string]*gate.Claims{
		"alice-token":   {Subject: "alice", Roles: []string{"SECRETARY"}},
		"tech-token":    {Subject: "tom", Roles: []string{"SECRETARY", "TECHNICIAN"}},
		"noroles-token": {Subject: "nobody"},
		"unknown-token": {Subject: "ghost", Roles: []string{"ADMIN"}},
		"revoked-token": {Subject: "alice", Roles: []string{"SECRETARY"}},
	}}
	rev := &mockRevocation{revoked: map[string]bool{
		"alice-token":   false,
		"tech-token":    false,
		"noroles-token": false,
		"revoked-token": true,
	}}
	p := policy.New(map[string][]string{
		"/patients": {"SECRETARY"},
		"/reports":  {"TECHNICIAN"},
	}, policy.Options{OpenEndpoints: []string{"/auth/login"}})

	return verifier, rev, gate.NewService(verifier, rev, p)
}

func TestService_Authorize(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		header   string
		wantKind gate.Kind
		wantUser string
	}{
		{name: "secretary on patients", path: "/patients/1", header: "Bearer alice-token", wantUser: "alice"},
		{name: "secretary on reports", path: "/reports/5", header: "Bearer alice-token", wantKind: gate.KindInsufficientRoles},
		{name: "technician among others on reports", path: "/reports/5", header: "Bearer tech-token", wantUser: "tom"},
		{name: "no policy entry", path: "/misc", header: "Bearer alice-token", wantUser: "alice"},
		{name: "missing header", path: "/patients/1", header: "", wantKind: gate.KindMissingAuthorizationHeader},
		{name: "wrong scheme", path: "/patients/1", header: "Basic YWxpY2U6cHc=", wantKind: gate.KindMissingAuthorizationHeader},
		{name: "empty bearer", path: "/patients/1", header: "Bearer   ", wantKind: gate.KindMissingAuthorizationHeader},
		{name: "lowercase scheme", path: "/patients/1", header: "bearer alice-token", wantUser: "alice"},
		{name: "forged token", path: "/patients/1", header: "Bearer forged", wantKind: gate.KindInvalidToken},
		{name: "not in store", path: "/patients/1", header: "Bearer unknown-token", wantKind: gate.KindTokenNotFound},
		{name: "logged out", path: "/patients/1", header: "Bearer revoked-token", wantKind: gate.KindLoggedOutToken},
		{name: "no roles on gated route", path: "/patients/1", header: "Bearer noroles-token", wantKind: gate.KindMissingRoles},
		{name: "no roles on ungated route", path: "/misc", header: "Bearer noroles-token", wantUser: "nobody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, svc := newFixture()

			decision, err := svc.Authorize(context.Background(), gate.Request{Path: tt.path, Authorization: tt.header})

			if tt.wantKind != 0 {
				kind, ok := gate.KindOf(err)
				if !ok {
					t.Fatalf("expected gate error, got %v", err)
				}
				if kind != tt.wantKind {
					t.Fatalf("kind = %s, want %s", kind, tt.wantKind)
				}
				if decision != nil {
					t.Errorf("expected nil decision on rejection, got %+v", decision)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if decision.Open || decision.Identity == nil {
				t.Fatalf("expected authenticated decision, got %+v", decision)
			}
			if decision.Identity.Username != tt.wantUser {
				t.Errorf("username = %q, want %q", decision.Identity.Username, tt.wantUser)
			}
		})
	}
}

func TestService_Authorize_OpenEndpointSkipsCollaborators(t *testing.T) {
	verifier, rev, svc := newFixture()

	decision, err := svc.Authorize(context.Background(), gate.Request{Path: "/auth/login"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Open || decision.Identity != nil {
		t.Errorf("expected open decision without identity, got %+v", decision)
	}
	if verifier.calls != 0 || rev.calls != 0 {
		t.Errorf("open endpoint touched verifier (%d) or store (%d)", verifier.calls, rev.calls)
	}
}

func TestService_Authorize_InvalidTokenSkipsStore(t *testing.T) {
	_, rev, svc := newFixture()

	_, err := svc.Authorize(context.Background(), gate.Request{Path: "/patients/1", Authorization: "Bearer forged"})
	if kind, _ := gate.KindOf(err); kind != gate.KindInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if rev.calls != 0 {
		t.Errorf("store consulted %d times for an unverified token", rev.calls)
	}
}

func TestService_Authorize_StoreFailureFailsClosed(t *testing.T) {
	_, rev, svc := newFixture()
	rev.err = fmt.Errorf("%w: dial tcp: connection refused", revocation.ErrUnavailable)

	decision, err := svc.Authorize(context.Background(), gate.Request{Path: "/patients/1", Authorization: "Bearer alice-token"})
	if decision != nil {
		t.Fatalf("expected no decision, got %+v", decision)
	}
	if kind, _ := gate.KindOf(err); kind != gate.KindStoreUnavailable {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if !errors.Is(err, revocation.ErrUnavailable) {
		t.Errorf("expected wrapped store error, got %v", err)
	}
}

func TestService_Authorize_UnmatchedDeny(t *testing.T) {
	verifier, rev, _ := newFixture()
	p := policy.New(map[string][]string{"/patients": {"SECRETARY"}}, policy.Options{
		Fallback:  policy.FallbackExact,
		Unmatched: policy.UnmatchedDeny,
	})
	svc := gate.NewService(verifier, rev, p)

	_, err := svc.Authorize(context.Background(), gate.Request{Path: "/patients/1", Authorization: "Bearer alice-token"})
	if kind, _ := gate.KindOf(err); kind != gate.KindInsufficientRoles {
		t.Fatalf("expected insufficient roles for unmatched path, got %v", err)
	}

	decision, err := svc.Authorize(context.Background(), gate.Request{Path: "/patients", Authorization: "Bearer alice-token"})
	if err != nil || decision.Identity == nil {
		t.Fatalf("expected exact path to pass, got %+v, %v", decision, err)
	}
}

func TestService_Authorize_Idempotent(t *testing.T) {
	_, _, svc := newFixture()
	req := gate.Request{Path: "/reports/5", Authorization: "Bearer alice-token"}

	_, first := svc.Authorize(context.Background(), req)
	for range 3 {
		_, err := svc.Authorize(context.Background(), req)
		if fmt.Sprint(err) != fmt.Sprint(first) {
			t.Fatalf("decision changed: %v vs %v", err, first)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc.def.ghi", token: "abc.def.ghi", ok: true},
		{header: "  Bearer   abc  ", token: "abc", ok: true},
		{header: "BEARER abc", token: "abc", ok: true},
		{header: "Bearer", ok: false},
		{header: "Bearerabc", ok: false},
		{header: "Token abc", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		token, ok := gate.BearerToken(tt.header)
		if ok != tt.ok || token != tt.token {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	err := &gate.Error{Kind: gate.KindTokenNotFound, Err: revocation.ErrTokenNotFound}
	if !errors.Is(err, revocation.ErrTokenNotFound) {
		t.Error("expected gate error to unwrap to the store error")
	}
	if err.Error() != "token_not_found: token not found in revocation store" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
