package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretBytes is the smallest HMAC key accepted at startup (HS256 needs 256 bits).
const MinSecretBytes = 32

const (
	SecretEncodingRaw    = "raw"
	SecretEncodingBase64 = "base64"

	FallbackFirstSegment = "first_segment"
	FallbackExact        = "exact"

	UnmatchedAuthenticated = "authenticated"
	UnmatchedDeny          = "deny"
)

type RoutePolicy struct {
	Path  string   `mapstructure:"path"`
	Roles []string `mapstructure:"roles"`
}

type Upstream struct {
	Prefix      string `mapstructure:"prefix"`
	URL         string `mapstructure:"url"`
	StripPrefix bool   `mapstructure:"strip_prefix"`
}

type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		Mode         string        `mapstructure:"mode"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Redis struct {
		URL             string        `mapstructure:"url"`
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		Password        string        `mapstructure:"password"`
		DB              int           `mapstructure:"db"`
		PoolSize        int           `mapstructure:"pool_size"`
		MinIdleConns    int           `mapstructure:"min_idle_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
		PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
		DialTimeout     time.Duration `mapstructure:"dial_timeout"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		LookupTimeout   time.Duration `mapstructure:"lookup_timeout"`
	} `mapstructure:"redis"`

	Auth struct {
		Secret           string        `mapstructure:"secret"`
		SecretEncoding   string        `mapstructure:"secret_encoding"`
		AuthoritiesClaim string        `mapstructure:"authorities_claim"`
		UsernameHeader   string        `mapstructure:"username_header"`
		RolesHeader      string        `mapstructure:"roles_header"`
		OpenEndpoints    []string      `mapstructure:"open_endpoints"`
		ClockSkew        time.Duration `mapstructure:"clock_skew"`
	} `mapstructure:"auth"`

	Policy struct {
		Fallback  string        `mapstructure:"fallback"`
		Unmatched string        `mapstructure:"unmatched"`
		Routes    []RoutePolicy `mapstructure:"routes"`
	} `mapstructure:"policy"`

	Upstream struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"upstream"`

	Upstreams []Upstream `mapstructure:"upstreams"`

	Observability struct {
		MetricsEnabled     bool              `mapstructure:"metrics_enabled"`
		TraceEnabled       bool              `mapstructure:"trace_enabled"`
		TracingEndpointURL string            `mapstructure:"tracing_endpoint_url"`
		TracingInsecure    bool              `mapstructure:"tracing_insecure"`
		TracingHeaders     map[string]string `mapstructure:"tracing_headers"`
		TraceSampleRatio   float64           `mapstructure:"trace_sample_ratio"`
		LogLevel           string            `mapstructure:"log_level"`
		Format             string            `mapstructure:"log_format"`
		LogSource          bool              `mapstructure:"log_source"`
	} `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 32)
	v.SetDefault("redis.min_idle_conns", 4)
	v.SetDefault("redis.max_idle_conns", 16)
	v.SetDefault("redis.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("redis.pool_timeout", 2*time.Second)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", time.Second)
	v.SetDefault("redis.lookup_timeout", 2*time.Second)

	v.SetDefault("auth.secret_encoding", SecretEncodingBase64)
	v.SetDefault("auth.authorities_claim", "authorities")
	v.SetDefault("auth.username_header", "X-Username")
	v.SetDefault("auth.roles_header", "X-User-Roles")
	v.SetDefault("auth.open_endpoints", []string{"/auth/login", "/auth/refresh"})
	v.SetDefault("auth.clock_skew", 30*time.Second)

	v.SetDefault("policy.fallback", FallbackFirstSegment)
	v.SetDefault("policy.unmatched", UnmatchedAuthenticated)

	v.SetDefault("upstream.timeout", 30*time.Second)

	v.SetDefault("observability.tracing_insecure", true)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
}

// Load reads configuration from ./config/config.yaml (or ./config.yaml), merges
// config.$APP_ENV.yaml when present and applies RECORDS_GATEWAY_* env overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvPrefix("RECORDS_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			slog.Default().Info("No environment-specific config (optional)", slog.String("env", env))
		} else {
			slog.Default().Info("Environment-specific config loaded", slog.String("env", env))
		}
	}

	return unmarshal(v)
}

// LoadFile reads a single YAML file without env merging. Used by tools and tests.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Default().Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

// Validate rejects configurations the gateway must not start with.
func (c *Config) Validate() error {
	if _, err := c.SigningKey(); err != nil {
		return err
	}

	switch c.Policy.Fallback {
	case FallbackFirstSegment, FallbackExact:
	default:
		return fmt.Errorf("policy.fallback: unknown value %q", c.Policy.Fallback)
	}
	switch c.Policy.Unmatched {
	case UnmatchedAuthenticated, UnmatchedDeny:
	default:
		return fmt.Errorf("policy.unmatched: unknown value %q", c.Policy.Unmatched)
	}

	if c.Auth.AuthoritiesClaim == "" {
		return errors.New("auth.authorities_claim is required")
	}
	if c.Auth.UsernameHeader == "" {
		return errors.New("auth.username_header is required")
	}

	if r := c.Observability.TraceSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("observability.trace_sample_ratio: %v is outside [0, 1]", r)
	}

	for i, r := range c.Policy.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("policy.routes[%d]: path %q must start with /", i, r.Path)
		}
	}
	for i, u := range c.Upstreams {
		if !strings.HasPrefix(u.Prefix, "/") {
			return fmt.Errorf("upstreams[%d]: prefix %q must start with /", i, u.Prefix)
		}
		if u.URL == "" {
			return fmt.Errorf("upstreams[%d]: url is required", i)
		}
	}
	return nil
}

// SigningKey decodes the configured HMAC secret and enforces the minimum key size.
func (c *Config) SigningKey() ([]byte, error) {
	if c.Auth.Secret == "" {
		return nil, errors.New("auth.secret is required")
	}

	var key []byte
	switch c.Auth.SecretEncoding {
	case SecretEncodingRaw:
		key = []byte(c.Auth.Secret)
	case SecretEncodingBase64, "":
		decoded, err := base64.StdEncoding.DecodeString(c.Auth.Secret)
		if err != nil {
			return nil, fmt.Errorf("auth.secret: invalid base64: %w", err)
		}
		key = decoded
	default:
		return nil, fmt.Errorf("auth.secret_encoding: unknown value %q", c.Auth.SecretEncoding)
	}

	if len(key) < MinSecretBytes {
		return nil, fmt.Errorf("auth.secret: %d bytes, need at least %d", len(key), MinSecretBytes)
	}
	return key, nil
}

// RedisAddr returns host:port for the revocation store when no URL is configured.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}
