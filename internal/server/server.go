// Package server assembles the HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cryptonex/flashtrade/internal/auth"
	"github.com/cryptonex/flashtrade/internal/domain"
	"github.com/cryptonex/flashtrade/internal/server/handler"
	"github.com/cryptonex/flashtrade/internal/server/middleware"
	"github.com/cryptonex/flashtrade/internal/server/ws"
)

// Per-client-IP request cap across the whole API surface. Trade creation
// has its own per-user limit in the service layer.
const (
	apiRateLimit  = 300
	apiRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// RateLimiter, when set, applies the per-IP request cap.
	RateLimiter domain.RateLimiter
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Trades *handler.TradeHandler
	Admin  *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the flash-trade engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the middleware
// chain (auth, logging, CORS). Admin routes additionally require the
// operator role.
func NewServer(cfg Config, handlers Handlers, verifier *auth.Verifier, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Public endpoints (no token required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/flash-trade/settings", handlers.Trades.Settings)

	// User endpoints.
	mux.HandleFunc("POST /api/flash-trade/start", handlers.Trades.StartTrade)
	mux.HandleFunc("GET /api/flash-trade/active", handlers.Trades.ListActive)
	mux.HandleFunc("GET /api/flash-trade/history", handlers.Trades.History)
	mux.HandleFunc("GET /api/balance", handlers.Trades.Balance)
	mux.HandleFunc("GET /api/transactions", handlers.Trades.Transactions)

	// Operator endpoints.
	operator := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireOperator(h)
	}
	mux.Handle("GET /api/admin/policy", operator(handlers.Admin.GetPolicy))
	mux.Handle("PUT /api/admin/policy", operator(handlers.Admin.PutPolicy))
	mux.Handle("GET /api/admin/users/{id}/policy", operator(handlers.Admin.GetUserPolicy))
	mux.Handle("PUT /api/admin/users/{id}/policy", operator(handlers.Admin.PutUserPolicy))
	mux.Handle("DELETE /api/admin/users/{id}/policy", operator(handlers.Admin.DeleteUserPolicy))
	mux.Handle("POST /api/admin/flash-trade/{id}/result", operator(handlers.Admin.ForceResult))
	mux.Handle("POST /api/admin/users/{id}/balance", operator(handlers.Admin.AdjustBalance))

	// WebSocket endpoint; authenticates through its own subscribe handshake.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(verifier, "/api/health", "/api/flash-trade/settings", "/ws")(h)
	if cfg.RateLimiter != nil {
		h = middleware.RateLimit(cfg.RateLimiter, apiRateLimit, apiRateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
