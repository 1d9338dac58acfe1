package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evenstad/reconcile-backend/internal/api/handlers"
	"github.com/evenstad/reconcile-backend/internal/api/middleware"
	"github.com/evenstad/reconcile-backend/internal/application/pipeline"
	"github.com/evenstad/reconcile-backend/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	repo       storage.Repository
	pipe       *pipeline.Pipeline
}

// NewServer creates a new API server over the given pipeline.
func NewServer(cfg Config, repo storage.Repository, pipe *pipeline.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: logger,
		repo:   repo,
		pipe:   pipe,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.CORS(s.config.AllowedOrigins))
	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.Get("/health", healthHandler.ServeHTTP)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		// Ingestion
		ingestHandler := handlers.NewIngestHandler(s.repo, s.pipe)
		r.Post("/transactions", ingestHandler.CreateTransaction)
		r.Post("/invoices", ingestHandler.CreateInvoice)

		// Review queue
		reviewHandler := handlers.NewReviewQueueHandler(s.repo, s.pipe.Queue())
		r.Get("/review-queue", reviewHandler.List)
		r.Post("/review-queue/{id}/open", reviewHandler.Open)
		r.Post("/review-queue/{id}/resolve", reviewHandler.Resolve)

		// Audit stream and exceptions
		decisionsHandler := handlers.NewDecisionsHandler(s.repo)
		r.Get("/decisions", decisionsHandler.List)

		exceptionsHandler := handlers.NewExceptionsHandler(s.repo)
		r.Get("/exceptions", exceptionsHandler.List)

		// Posting journal
		ledgerHandler := handlers.NewLedgerHandler(s.repo, s.pipe)
		r.Get("/ledger", ledgerHandler.List)
		r.Post("/ledger/{id}/correct", ledgerHandler.Correct)

		// Learned patterns
		patternsHandler := handlers.NewPatternsHandler(s.repo, s.pipe)
		r.Get("/patterns", patternsHandler.List)
		r.Post("/patterns/{id}/promote", patternsHandler.Promote)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
