package gate

import (
	"context"

	"github.com/astro-web3/records-gateway/internal/domain/gate"
	"github.com/astro-web3/records-gateway/pkg/metrics"
	"github.com/astro-web3/records-gateway/pkg/tracer"
	"go.opentelemetry.io/otel/attribute"
)

const (
	outcomeOpen      = "open"
	outcomeForwarded = "forwarded"
	outcomeError     = "error"
)

type Service interface {
	Authorize(ctx context.Context, req gate.Request) (*gate.Decision, error)
}

type service struct {
	domainService gate.Service
}

func NewService(domainService gate.Service) Service {
	return &service{
		domainService: domainService,
	}
}

func (s *service) Authorize(ctx context.Context, req gate.Request) (*gate.Decision, error) {
	ctx, span := tracer.Start(ctx, "app.gate.Authorize")
	defer span.End()

	span.SetAttributes(attribute.String("http.route_path", req.Path))

	decision, err := s.domainService.Authorize(ctx, req)
	if err != nil {
		kind, ok := gate.KindOf(err)
		outcome := outcomeError
		if ok {
			outcome = kind.String()
		}
		span.SetAttributes(
			attribute.Bool("gate.allowed", false),
			attribute.String("gate.reason", outcome),
		)
		if !ok || kind == gate.KindStoreUnavailable {
			tracer.Fail(span, err)
		}
		metrics.RecordGateDecision(outcome)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("gate.allowed", true),
		attribute.Bool("gate.open", decision.Open),
	)
	if decision.Identity != nil {
		span.SetAttributes(attribute.String("gate.username", decision.Identity.Username))
	}

	if decision.Open {
		metrics.RecordGateDecision(outcomeOpen)
	} else {
		metrics.RecordGateDecision(outcomeForwarded)
	}
	return decision, nil
}

const tokenPrefixLength = 8

// TokenPrefix returns a log-safe prefix of a bearer token.
func TokenPrefix(token string) string {
	if len(token) > tokenPrefixLength {
		return token[:tokenPrefixLength] + "..."
	}
	return "***"
}
