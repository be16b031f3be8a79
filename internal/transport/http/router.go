package http

import (
	"context"
	"net/http"
	"time"

	"github.com/astro-web3/records-gateway/internal/config"
	"github.com/astro-web3/records-gateway/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const readinessTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter serves operational endpoints directly; every other path goes
// through route resolution, the gate and the forwarder, in that order.
func NewRouter(handler *Handler, proxy *Proxy, store Pinger, cfg *config.Config) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	if cfg.Observability.TraceEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "revocation store unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	if cfg.Observability.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	router.NoRoute(proxy.Route, handler.Gate, proxy.Forward)

	return router
}
