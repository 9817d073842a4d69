// Package server hosts the HTTP + WebSocket API for the escrow engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/coinduel/internal/domain"
	"github.com/alanyoungcy/coinduel/internal/metrics"
	"github.com/alanyoungcy/coinduel/internal/server/handler"
	"github.com/alanyoungcy/coinduel/internal/server/middleware"
	"github.com/alanyoungcy/coinduel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// AuthSkewMax bounds signed-request timestamp drift.
	AuthSkewMax time.Duration

	// RateLimit is requests per client per minute; zero disables limiting.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Bets   *handler.BetHandler
	Price  *handler.PriceHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. Read endpoints are
// open; deposit and withdraw endpoints require a caller signature because
// they act on behalf of a specific party. Settlement is deliberately open:
// its outcome depends only on the oracle.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and metrics (no auth).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	// Read endpoints.
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("GET /api/price", handlers.Price.GetPrice)

	// Open mutations.
	mux.HandleFunc("POST /api/bets", handlers.Bets.CreateBet)
	mux.HandleFunc("POST /api/bets/{id}/settle", handlers.Bets.SettleBet)

	// Party-authenticated mutations.
	auth := middleware.CallerAuth(cfg.AuthSkewMax)
	mux.Handle("POST /api/bets/{id}/deposit/stable", auth(http.HandlerFunc(handlers.Bets.DepositStable)))
	mux.Handle("POST /api/bets/{id}/deposit/volatile", auth(http.HandlerFunc(handlers.Bets.DepositVolatile)))
	mux.Handle("POST /api/bets/{id}/withdraw", auth(http.HandlerFunc(handlers.Bets.WithdrawStale)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
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
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
