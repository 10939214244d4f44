// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects storage, services,
// handlers, middleware and routes. It decides:
// - Which storage backend the process runs on
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → openStore → repository.Store (memory | sqlite | postgres)
//	                               ↓
//	IdentityService, MembershipService, MessagingService
//	                               ↓
//	AuthHandler, UserHandler, ChatHandler, MessageHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/sakif/messenger/internal/auth"
	"github.com/sakif/messenger/internal/config"
	"github.com/sakif/messenger/internal/handler"
	"github.com/sakif/messenger/internal/metrics"
	"github.com/sakif/messenger/internal/middleware"
	"github.com/sakif/messenger/internal/repository"
	"github.com/sakif/messenger/internal/repository/memory"
	"github.com/sakif/messenger/internal/repository/postgres"
	sqliteRepo "github.com/sakif/messenger/internal/repository/sqlite"
	"github.com/sakif/messenger/internal/service"
)

// Store is a storage backend the server owns and closes on shutdown.
type Store interface {
	repository.Store
	io.Closer
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the rate limiter's sweep goroutine. Close
// releases both; Start calls it on the way out.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   Store
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter

	identity   *service.IdentityService
	membership *service.MembershipService
	messaging  *service.MessagingService
	tokens     *auth.TokenService
}

// New opens the configured storage backend and builds the server on it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s storage: %w", cfg.Storage, err)
	}

	s, err := NewWithStore(ctx, cfg, store, logger)
	if err != nil {
		store.Close() // Clean up the store if wiring fails
		return nil, err
	}
	return s, nil
}

// openStore picks the backend named by cfg.Storage.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` to keep it apart from the
// modernc.org/sqlite driver it wraps.
func openStore(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StoragePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	case config.StorageSQLite:
		// os.MkdirAll is `mkdir -p`: the data directory is created on first run.
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		return sqliteRepo.New(cfg.DBPath)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}

// NewWithStore wires services, handlers and routes on top of an already open
// store, then makes sure the system user exists. The server takes ownership
// of store.
func NewWithStore(ctx context.Context, cfg config.Config, store Store, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.BcryptCost)
	m := metrics.New()

	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		logger:     logger,
		store:      store,
		metrics:    m,
		limiter:    middleware.NewRateLimiter(rate.Limit(cfg.AuthRateLimit), cfg.AuthRateBurst, 10*time.Minute),
		identity:   service.NewIdentityService(store, tokens, passwords, m, logger),
		membership: service.NewMembershipService(store, m, logger),
		messaging:  service.NewMessagingService(store, m, logger),
		tokens:     tokens,
	}

	if err := s.identity.Bootstrap(ctx); err != nil {
		s.limiter.Stop()
		return nil, fmt.Errorf("bootstrapping system user: %w", err)
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /metrics                    → Prometheus scrape endpoint
//	GET    /v1/health                  → liveness
//	POST   /v1/users                   → register              [rate limited]
//	POST   /v1/users/{id}/signin       → sign in               [rate limited]
//	POST   /v1/me/refresh              → rotate refresh token  [rate limited]
//	--- everything below requires "Authorization: Bearer <access token>" ---
//	GET    /v1/me                      → own profile
//	POST   /v1/me/signout              → revoke all refresh tokens
//	POST   /v1/me/invalidate           → revoke one refresh token
//	GET    /v1/me/chats                → own chats
//	GET    /v1/admin                   → the system user
//	GET    /v1/users?name=             → search users
//	GET    /v1/users/{id}              → one user
//	POST   /v1/chats                   → create chat
//	POST   /v1/chats/{id}/invite       → invite a user
//	POST   /v1/chats/{id}/join         → join with the secret
//	POST   /v1/chats/{id}/leave        → leave
//	GET    /v1/chats/{id}/members      → list members
//	POST   /v1/chats/{id}/messages     → post message
//	GET    /v1/chats/{id}/messages     → list messages (?after_id=)
//	DELETE /v1/messages/{id}           → delete message
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers (rate limiter key).
//    Only with TRUST_PROXY: without a proxy the headers are client-controlled.
// 3. Logger: logs each request with timing info
// 4. Metrics: counts requests per route pattern
// 5. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(s.metrics.Middleware)
	s.router.Use(chimiddleware.Recoverer)

	authHandler := handler.NewAuthHandler(s.identity, s.logger)
	userHandler := handler.NewUserHandler(s.identity, s.logger)
	chatHandler := handler.NewChatHandler(s.membership, s.logger)
	messageHandler := handler.NewMessageHandler(s.messaging, s.logger)

	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", handleHealth)

		// === Public, rate limited ===
		r.With(s.limiter.Handler).Post("/users", authHandler.HandleRegister)
		r.With(s.limiter.Handler).Post("/users/{id}/signin", authHandler.HandleSignIn)
		r.With(s.limiter.Handler).Post("/me/refresh", authHandler.HandleRefresh)

		// === Authenticated ===
		// RequireAuth verifies the access token AND that its user still
		// exists, then puts the user in the request context.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens, s.identity, s.logger))

			r.Get("/me", authHandler.HandleMe)
			r.Post("/me/signout", authHandler.HandleSignOut)
			r.Post("/me/invalidate", authHandler.HandleInvalidate)
			r.Get("/me/chats", chatHandler.HandleListMine)

			r.Get("/admin", userHandler.HandleSystemUser)
			r.Get("/users", userHandler.HandleFind)
			r.Get("/users/{id}", userHandler.HandleGet)

			r.Post("/chats", chatHandler.HandleCreate)
			r.Route("/chats/{id}", func(r chi.Router) {
				r.Post("/invite", chatHandler.HandleInvite)
				r.Post("/join", chatHandler.HandleJoin)
				r.Post("/leave", chatHandler.HandleLeave)
				r.Get("/members", chatHandler.HandleMembers)
				r.Post("/messages", messageHandler.HandlePost)
				r.Get("/messages", messageHandler.HandleList)
			})

			r.Delete("/messages/{id}", messageHandler.HandleDelete)
		})
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// Handler returns the root HTTP handler (used by tests and Start).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the rate limiter and closes the store.
func (s *Server) Close() error {
	s.limiter.Stop()
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the store (flushes the SQLite WAL, returns pooled Postgres connections)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("storage", s.config.Storage),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
