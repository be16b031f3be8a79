package config_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astro-web3/records-gateway/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	path := writeConfig(t, "auth:\n  secret: \""+secret+"\"\n")

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Auth.UsernameHeader != "X-Username" {
		t.Errorf("expected default username header, got %q", cfg.Auth.UsernameHeader)
	}
	if cfg.Auth.AuthoritiesClaim != "authorities" {
		t.Errorf("expected default authorities claim, got %q", cfg.Auth.AuthoritiesClaim)
	}
	if cfg.Policy.Fallback != config.FallbackFirstSegment {
		t.Errorf("expected first_segment fallback, got %q", cfg.Policy.Fallback)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("expected localhost:6379, got %q", cfg.RedisAddr())
	}
	if cfg.Auth.ClockSkew != 30*time.Second {
		t.Errorf("expected 30s clock skew, got %v", cfg.Auth.ClockSkew)
	}
	if cfg.Observability.TraceSampleRatio != 1.0 {
		t.Errorf("expected full sampling by default, got %v", cfg.Observability.TraceSampleRatio)
	}
	if cfg.Redis.LookupTimeout <= 0 {
		t.Errorf("expected positive lookup timeout, got %v", cfg.Redis.LookupTimeout)
	}
}

func TestLoadFile_RoutesAndUpstreams(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: "0123456789abcdef0123456789abcdef"
  secret_encoding: "raw"
policy:
  fallback: "exact"
  unmatched: "deny"
  routes:
    - path: "/reports"
      roles: ["TECHNICIAN"]
upstreams:
  - prefix: "/reports"
    url: "http://reports:8080"
    strip_prefix: true
`)

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Policy.Routes) != 1 || cfg.Policy.Routes[0].Path != "/reports" {
		t.Fatalf("unexpected routes: %+v", cfg.Policy.Routes)
	}
	if got := cfg.Policy.Routes[0].Roles; len(got) != 1 || got[0] != "TECHNICIAN" {
		t.Errorf("unexpected roles: %v", got)
	}
	if len(cfg.Upstreams) != 1 || !cfg.Upstreams[0].StripPrefix {
		t.Errorf("unexpected upstreams: %+v", cfg.Upstreams)
	}
}

func TestValidate_RejectsBadSecrets(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		encoding string
	}{
		{name: "empty", secret: "", encoding: config.SecretEncodingRaw},
		{name: "short raw", secret: "too-short", encoding: config.SecretEncodingRaw},
		{name: "short base64", secret: base64.StdEncoding.EncodeToString([]byte("short")), encoding: config.SecretEncodingBase64},
		{name: "malformed base64", secret: "%%%not-base64%%%", encoding: config.SecretEncodingBase64},
		{name: "unknown encoding", secret: strings.Repeat("k", 40), encoding: "hex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Auth.Secret = tt.secret
			cfg.Auth.SecretEncoding = tt.encoding
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_RejectsUnknownPolicyModes(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.Fallback = "longest"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown fallback")
	}

	cfg = validConfig()
	cfg.Policy.Unmatched = "allow"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown unmatched mode")
	}
}

func TestValidate_RejectsUpstreamWithoutURL(t *testing.T) {
	cfg := validConfig()
	cfg.Upstreams = []config.Upstream{{Prefix: "/users"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for upstream without url")
	}
}

func TestValidate_RejectsSampleRatioOutOfRange(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		cfg := validConfig()
		cfg.Observability.TraceSampleRatio = ratio
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for sample ratio %v", ratio)
		}
	}
}

func validConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.Secret = strings.Repeat("s", config.MinSecretBytes)
	cfg.Auth.SecretEncoding = config.SecretEncodingRaw
	cfg.Auth.AuthoritiesClaim = "authorities"
	cfg.Auth.UsernameHeader = "X-Username"
	cfg.Policy.Fallback = config.FallbackFirstSegment
	cfg.Policy.Unmatched = config.UnmatchedAuthenticated
	return cfg
}
