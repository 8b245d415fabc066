package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/awerhq/wpp-webhooks/internal/config"
	"github.com/awerhq/wpp-webhooks/internal/db"
	"github.com/awerhq/wpp-webhooks/internal/httpapi"
	"github.com/awerhq/wpp-webhooks/internal/logx"
	"github.com/awerhq/wpp-webhooks/internal/projection"
	"github.com/awerhq/wpp-webhooks/internal/rawstore"
	"github.com/awerhq/wpp-webhooks/internal/worker"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logx.Setup("info", "wpp-webhooks")
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logx.Setup(cfg.LogLevel, "wpp-webhooks")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseDSN); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	store := &rawstore.Store{Pool: pool}

	srv := &httpapi.Server{
		Secret:       []byte(cfg.WebhookSecret),
		Store:        store,
		VerboseLogs:  cfg.VerboseLogs,
		PreviewChars: cfg.PreviewChars,
	}

	w := &worker.Worker{
		DB:           pool,
		Store:        store,
		Recipients:   projection.Recipients{},
		Templates:    projection.Templates{},
		Consents:     projection.Consents{PhoneColumn: cfg.UserPhoneColumn, BlockedAsOptOut: cfg.BlockedAsOptOut},
		Integrations: projection.Integrations{},
		BatchSize:    cfg.BatchSize,
		Interval:     cfg.WorkerInterval,
		MaxAttempts:  config.MaxAttempts,
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	httpAddr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM: stop scheduling ticks, let the
	// in-flight tick commit or roll back, drain HTTP, close the pool.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	cancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("worker did not stop before shutdown deadline")
	}

	log.Info().Msg("server stopped")
}
