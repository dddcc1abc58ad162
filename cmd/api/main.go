// Package main provides the entry point for the signing API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lenswork/studio-sign/internal/api"
	"github.com/lenswork/studio-sign/internal/audit"
	"github.com/lenswork/studio-sign/internal/auth"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/mail"
	pgstore "github.com/lenswork/studio-sign/internal/store/postgres"
	"github.com/lenswork/studio-sign/internal/store/postgres/migrations"
	"github.com/lenswork/studio-sign/pkg/config"
	"github.com/lenswork/studio-sign/pkg/logger"
)

// expirySweepInterval is how often overdue envelopes are marked EXPIRED.
const expirySweepInterval = 10 * time.Minute

func main() {
	log := logger.New(slog.LevelInfo, true)

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storeCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	store, err := pgstore.NewPostgresStore(storeCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := migrations.MigrateUp(store.DB()); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	mailer := mail.NewLogMailer(log.Logger)
	recorder := audit.NewRecorder(log.Logger)

	links := magiclink.NewService(store, nil, mailer, recorder, magiclink.Config{
		BaseURL:       cfg.PublicBaseURL,
		LinkExpiry:    cfg.LinkExpiry,
		OTPExpiry:     cfg.OTPExpiry,
		SessionExpiry: cfg.SessionExpiry,
	}, log.Logger)

	envelopes := envelope.NewService(store, links, mailer, recorder, log.Logger)

	server := api.NewServer(cfg, store, envelopes, links, authService, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Background sweep: envelopes past their expiry flip to EXPIRED even if
	// nobody touches them.
	go func() {
		ticker := time.NewTicker(expirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := envelopes.ExpireOverdue(ctx)
				if err != nil {
					log.Error("expiry sweep failed", "error", err)
					continue
				}
				if n > 0 {
					log.Info("expired overdue envelopes", "count", n)
				}
			}
		}
	}()

	log.Info("starting API server",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
	)

	if err := server.Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	// Give time for graceful shutdown
	time.Sleep(100 * time.Millisecond)
	log.Info("server stopped")
}
