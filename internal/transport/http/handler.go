package http

import (
	"log/slog"

	gateapp "github.com/astro-web3/records-gateway/internal/app/gate"
	"github.com/astro-web3/records-gateway/internal/domain/gate"
	"github.com/astro-web3/records-gateway/pkg/logger"
	"github.com/astro-web3/records-gateway/pkg/tracer"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const identityKey = "gateway.identity"

type Handler struct {
	appService gateapp.Service
}

func NewHandler(appService gateapp.Service) *Handler {
	return &Handler{
		appService: appService,
	}
}

// Gate authorizes the request and stores the caller identity on the gin
// context for the forwarder. Rejections abort the chain.
func (h *Handler) Gate(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "transport.http.Gate")
	defer span.End()

	authHeader := c.GetHeader("Authorization")

	decision, err := h.appService.Authorize(ctx, gate.Request{
		Path:          c.Request.URL.Path,
		Authorization: authHeader,
	})
	if err != nil {
		attrs := []slog.Attr{slog.String("path", c.Request.URL.Path)}
		if token, ok := gate.BearerToken(authHeader); ok {
			attrs = append(attrs, slog.String("token", gateapp.TokenPrefix(token)))
		}
		if kind, ok := gate.KindOf(err); ok && kind != gate.KindStoreUnavailable {
			span.SetAttributes(attribute.String("gate.reason", kind.String()))
			logger.WarnContext(ctx, "request rejected", append(attrs, slog.String("kind", kind.String()))...)
		} else {
			tracer.Fail(span, err)
			logger.ErrorContext(ctx, "failed to authorize request", append(attrs, slog.String("error", err.Error()))...)
		}
		abortWithError(c, err)
		return
	}

	if decision.Identity != nil {
		c.Set(identityKey, decision.Identity)
	}
	c.Next()
}

// IdentityFrom returns the identity stored by Gate, or nil for open endpoints.
func IdentityFrom(c *gin.Context) *gate.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*gate.Identity)
	return identity
}
