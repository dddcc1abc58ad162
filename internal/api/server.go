// Package api provides the HTTP server for the document signing service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lenswork/studio-sign/internal/api/handlers"
	"github.com/lenswork/studio-sign/internal/api/health"
	"github.com/lenswork/studio-sign/internal/api/middleware"
	"github.com/lenswork/studio-sign/internal/auth"
	"github.com/lenswork/studio-sign/internal/envelope"
	"github.com/lenswork/studio-sign/internal/magiclink"
	"github.com/lenswork/studio-sign/internal/store"
	"github.com/lenswork/studio-sign/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	store         store.Store
	envelopes     *envelope.Service
	links         *magiclink.Service
	auth          *auth.Service
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, st store.Store, envelopes *envelope.Service, links *magiclink.Service, authSvc *auth.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:     st,
		envelopes: envelopes,
		links:     links,
		auth:      authSvc,
		config:    cfg,
		logger:    logger,
	}

	s.healthChecker = health.NewChecker(st, Version)

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// Health check endpoint (no auth required)
	r.Get("/health", s.healthChecker.Handler())

	// Back-office auth routes (no auth required)
	authHandler := handlers.NewAuthHandler(s.store, s.auth, s.logger)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/setup", authHandler.SetupCheck)
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// Public signing surface: everything hangs off the magic-link token.
	signingHandler := handlers.NewSigningHandler(s.envelopes, s.links, s.logger)
	r.Route("/sign/{token}", func(r chi.Router) {
		r.Get("/", signingHandler.View)
		r.Post("/otp", signingHandler.RequestOTP)
		r.Post("/otp/verify", signingHandler.VerifyOTP)
		r.Post("/signature", signingHandler.Sign)
		r.Post("/decline", signingHandler.Decline)
	})

	// Back-office API v1 routes
	r.Route("/v1", func(r chi.Router) {
		authMiddleware := middleware.NewAuthMiddleware(s.auth, s.logger)
		r.Use(authMiddleware.Authenticate)

		r.Get("/auth/validate", func(w http.ResponseWriter, req *http.Request) {
			handlers.WriteJSON(w, http.StatusOK, map[string]any{
				"status":  "ok",
				"user_id": middleware.GetUserID(req.Context()),
			})
		})

		envelopeHandler := handlers.NewEnvelopeHandler(s.envelopes, s.store, s.logger)
		documentHandler := handlers.NewDocumentHandler(s.envelopes, s.logger)
		signerHandler := handlers.NewSignerHandler(s.envelopes, s.links, s.logger)
		eventsHandler := handlers.NewEventsHandler(s.store, s.logger)

		r.Get("/stats", envelopeHandler.Stats)

		r.Route("/envelopes", func(r chi.Router) {
			r.Post("/", envelopeHandler.Create)
			r.Get("/", envelopeHandler.List)
			r.Route("/{envelopeID}", func(r chi.Router) {
				r.Get("/", envelopeHandler.Get)
				r.Patch("/", envelopeHandler.Update)
				r.Post("/send", envelopeHandler.Send)
				r.Post("/cancel", envelopeHandler.Cancel)
				r.Get("/audit", envelopeHandler.AuditLog)
				r.Get("/events", eventsHandler.Stream)

				r.Route("/documents", func(r chi.Router) {
					r.Post("/", documentHandler.Add)
					r.Delete("/{documentID}", documentHandler.Remove)
				})

				r.Route("/signers", func(r chi.Router) {
					r.Post("/", signerHandler.Add)
					r.Delete("/{signerID}", signerHandler.Remove)
					r.Post("/{signerID}/resend", signerHandler.ResendInvite)
					r.Delete("/{signerID}/link", signerHandler.RevokeLink)
				})
			})
		})

		r.Get("/signatures/{signatureID}/verify", envelopeHandler.VerifySignature)

		// Admin maintenance
		r.Post("/admin/expire", envelopeHandler.ExpireOverdue)
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}
