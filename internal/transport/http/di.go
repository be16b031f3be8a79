package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gateapp "github.com/astro-web3/records-gateway/internal/app/gate"
	"github.com/astro-web3/records-gateway/internal/config"
	gatedomain "github.com/astro-web3/records-gateway/internal/domain/gate"
	"github.com/astro-web3/records-gateway/internal/domain/policy"
	"github.com/astro-web3/records-gateway/internal/infra/revocation"
	"github.com/astro-web3/records-gateway/internal/infra/token"
	httpclient "github.com/astro-web3/records-gateway/pkg/http"
	"github.com/astro-web3/records-gateway/pkg/logger"
	"github.com/astro-web3/records-gateway/pkg/otel"
	"github.com/astro-web3/records-gateway/pkg/tracer"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	httpServer  *http.Server
	redisClient *redis.Client
}

const (
	idleTimeoutMultiplier = 2
	serviceName           = "records-gateway"
	serviceVersion        = "0.1.0"
)

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.Format, cfg.Observability.LogSource)

	otelCfg := otel.Config{
		ServiceName:        serviceName,
		ServiceVersion:     serviceVersion,
		EndpointURL:        cfg.Observability.TracingEndpointURL,
		Enabled:            cfg.Observability.TraceEnabled,
		SampleRatio:        cfg.Observability.TraceSampleRatio,
		Insecure:           cfg.Observability.TracingInsecure,
		Headers:            cfg.Observability.TracingHeaders,
		ResourceAttributes: map[string]string{"service.namespace": "hospital"},
	}
	if err := tracer.InitTracer(serviceName, otelCfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	signingKey, err := cfg.SigningKey()
	if err != nil {
		return nil, fmt.Errorf("invalid signing secret: %w", err)
	}
	validator, err := token.NewValidator(signingKey, cfg.Auth.AuthoritiesClaim,
		token.WithClockSkew(cfg.Auth.ClockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token validator: %w", err)
	}

	redisClient, err := revocation.NewRedisClient(ctx, revocation.PoolOptions{
		URL:             cfg.Redis.URL,
		Addr:            cfg.RedisAddr(),
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		MaxIdleConns:    cfg.Redis.MaxIdleConns,
		ConnMaxIdleTime: cfg.Redis.ConnMaxIdleTime,
		PoolTimeout:     cfg.Redis.PoolTimeout,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	store := revocation.NewStore(redisClient, cfg.Redis.LookupTimeout)

	router, err := buildRouter(cfg, validator, store)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * idleTimeoutMultiplier,
	}

	return &Server{
		httpServer:  httpServer,
		redisClient: redisClient,
	}, nil
}

// RevocationStore is what the router needs from the revocation backend.
type RevocationStore interface {
	gatedomain.RevocationChecker
	Pinger
}

func buildRouter(cfg *config.Config, verifier gatedomain.TokenVerifier, store RevocationStore) (http.Handler, error) {
	routePolicy := policy.New(RouteTable(cfg.Policy.Routes), PolicyOptions(cfg))

	domainService := gatedomain.NewService(verifier, store, routePolicy)
	appService := gateapp.NewService(domainService)
	handler := NewHandler(appService)

	proxy, err := NewProxy(
		cfg.Upstreams,
		httpclient.NewClient(cfg.Upstream.Timeout),
		cfg.Auth.UsernameHeader,
		cfg.Auth.RolesHeader,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream routes: %w", err)
	}

	return NewRouter(handler, proxy, store, cfg), nil
}

// RouteTable turns configured route policies into the policy lookup table.
// Repeated paths merge their roles.
func RouteTable(routes []config.RoutePolicy) map[string][]string {
	table := make(map[string][]string, len(routes))
	for _, r := range routes {
		table[r.Path] = append(table[r.Path], r.Roles...)
	}
	return table
}

func PolicyOptions(cfg *config.Config) policy.Options {
	opts := policy.Options{OpenEndpoints: cfg.Auth.OpenEndpoints}
	if cfg.Policy.Fallback == config.FallbackExact {
		opts.Fallback = policy.FallbackExact
	}
	if cfg.Policy.Unmatched == config.UnmatchedDeny {
		opts.Unmatched = policy.UnmatchedDeny
	}
	return opts
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains HTTP and always closes the redis pool, even if draining fails.
func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Join(s.httpServer.Shutdown(ctx), s.redisClient.Close())
}
