package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astro-web3/records-gateway/internal/config"
	httptransport "github.com/astro-web3/records-gateway/internal/transport/http"
	"github.com/astro-web3/records-gateway/pkg/logger"
	"github.com/astro-web3/records-gateway/pkg/otel"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.MustLoad()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	srv, err := httptransport.NewServer(startupCtx, cfg)
	cancelStartup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "gateway listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("mode", cfg.Server.Mode),
			slog.Int("upstreams", len(cfg.Upstreams)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case sig := <-quit:
		logger.InfoContext(ctx, "shutdown signal received", slog.String("signal", sig.String()))
	case runErr = <-serveErr:
		logger.ErrorContext(ctx, "server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "forced shutdown", slog.Any("error", err))
	} else {
		logger.InfoContext(shutdownCtx, "server stopped gracefully")
	}
	if err := otel.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "failed to flush traces", slog.Any("error", err))
	}

	return runErr
}
