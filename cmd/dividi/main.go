package main

import (
	"context"
	"errors"
	"time"

	"dividi/internal/backend"
	"dividi/internal/cli"
	apphttp "dividi/internal/http"
	"dividi/internal/log"
	"dividi/internal/services"
)

var errNotConnected = errors.New("broker connection closed")

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	result, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	cancel()
	if err != nil {
		cli.Fatal(logger, "Failed to create backend", err)
	}

	// A nil *amqp.Client must not become a non-nil Publisher
	var publisher services.Publisher
	if result.AMQP != nil {
		publisher = result.AMQP
	}
	svc := services.NewSettlementService(result.Store, publisher, cfg.BalanceTolerance)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, svc, result.Store)

	srv.AddReadinessCheck("storage", func(ctx context.Context) error {
		_, err := result.Store.ListRecent(ctx, 1)
		return err
	})
	if result.AMQP != nil {
		srv.AddReadinessCheck("amqp", func(context.Context) error {
			if !result.AMQP.IsConnected() {
				return errNotConnected
			}
			return nil
		})
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting dividi server", "port", cfg.Port, "backend", cfg.DataBackend, "amqp", result.AMQP != nil)
	if err := srv.ListenAndServe(); err != nil {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
