package revocation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/astro-web3/records-gateway/pkg/metrics"
	"github.com/astro-web3/records-gateway/pkg/tracer"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrTokenNotFound means the token or its status record is missing from the store.
	ErrTokenNotFound = errors.New("token not found in revocation store")
	// ErrUnavailable means the store could not be reached or answered with an error.
	ErrUnavailable = errors.New("revocation store unavailable")
	// ErrMalformedRecord means the status record holds something other than a boolean.
	ErrMalformedRecord = errors.New("malformed revocation record")
)

// StatusKey is the key holding the logged-out flag for a token id.
func StatusKey(tokenID string) string {
	return "token:" + tokenID + ":is_logged_out"
}

type PoolOptions struct {
	URL             string
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	PoolTimeout     time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
}

// NewRedisClient builds a pooled client and pings it once so a wrong address
// fails at startup instead of on the first request.
func NewRedisClient(ctx context.Context, po PoolOptions) (*redis.Client, error) {
	var opt *redis.Options
	if po.URL != "" {
		parsed, err := redis.ParseURL(po.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     po.Addr,
			Password: po.Password,
			DB:       po.DB,
		}
	}

	if po.PoolSize > 0 {
		opt.PoolSize = po.PoolSize
	}
	opt.MinIdleConns = po.MinIdleConns
	opt.MaxIdleConns = po.MaxIdleConns
	if po.ConnMaxIdleTime > 0 {
		opt.ConnMaxIdleTime = po.ConnMaxIdleTime
	}
	if po.PoolTimeout > 0 {
		opt.PoolTimeout = po.PoolTimeout
	}
	if po.DialTimeout > 0 {
		opt.DialTimeout = po.DialTimeout
	}
	if po.ReadTimeout > 0 {
		opt.ReadTimeout = po.ReadTimeout
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// Store reads logout state written by the auth service. It never writes.
type Store struct {
	client        *redis.Client
	lookupTimeout time.Duration
}

func NewStore(client *redis.Client, lookupTimeout time.Duration) *Store {
	return &Store{client: client, lookupTimeout: lookupTimeout}
}

// IsRevoked resolves token -> token id -> logged-out flag.
func (s *Store) IsRevoked(ctx context.Context, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "infra.revocation.IsRevoked")
	defer span.End()

	if s.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lookupTimeout)
		defer cancel()
	}

	start := time.Now()
	revoked, err := s.lookup(ctx, token)
	metrics.ObserveRevocationLookup(outcome(revoked, err), time.Since(start))

	if err != nil {
		tracer.Fail(span, err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("revocation.logged_out", revoked))
	return revoked, nil
}

func (s *Store) lookup(ctx context.Context, token string) (bool, error) {
	tokenID, err := s.get(ctx, token)
	if err != nil {
		return false, err
	}

	status, err := s.get(ctx, StatusKey(tokenID))
	if err != nil {
		return false, err
	}

	revoked, err := strconv.ParseBool(status)
	if err != nil {
		return false, fmt.Errorf("%w: status %q for token id %s", ErrMalformedRecord, status, tokenID)
	}
	return revoked, nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return val, nil
}

// Ping checks store reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func outcome(revoked bool, err error) string {
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedRecord):
		return "malformed"
	case err != nil:
		return "error"
	case revoked:
		return "revoked"
	default:
		return "active"
	}
}
