// Package main is the entry point of the progression API server.
//
// The server exposes the REST API and, unless SCHEDULER_ENABLED=false,
// runs the maintenance jobs in-process. Deployments with several API
// replicas disable the scheduler here and run cmd/worker once.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lifeloop/progression/config"
	"github.com/lifeloop/progression/internal/bootstrap"
	httpapi "github.com/lifeloop/progression/internal/interface/http"
	"github.com/lifeloop/progression/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// Run starts the server and blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(string(cfg.App.Environment), cfg.Observability.LogLevel)
	defer func() { _ = log.Sync() }()

	log.Info("starting progression server",
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.App.Environment)),
		zap.String("timezone", cfg.App.Timezone),
	)

	rt, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("close resources", zap.Error(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Progression.SchedulerEnabled {
		sched, err := rt.NewScheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// HTTP
	// ─────────────────────────────────────────────────────────────────────────
	httpConfig := httpapi.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.RequestTimeout = cfg.HTTP.RequestTimeout
	httpConfig.AllowedOrigins = cfg.HTTP.CORSOrigins
	httpConfig.AtRiskWindow = cfg.Progression.AtRiskWindow
	httpConfig.Version = cfg.App.Version

	server := httpapi.NewServer(httpConfig, rt.Service, rt.Health, log)
	errCh := server.StartAsync()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
