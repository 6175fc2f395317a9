// Package server is the HTTP and WebSocket API of the oracle. In oracle mode
// it exposes status, manual triggers and history; in node mode it exposes
// the observe/sign endpoints a remote coordinator calls.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
	"github.com/alanyoungcy/predictx-oracle/internal/server/handler"
	"github.com/alanyoungcy/predictx-oracle/internal/server/middleware"
	"github.com/alanyoungcy/predictx-oracle/internal/server/ws"
)

const healthPath = "/api/health"

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// Limiter rate-limits the node endpoints when set.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the handlers to register. Nil groups are skipped.
type Handlers struct {
	Health *handler.HealthHandler
	Oracle *handler.OracleHandler
	Node   *handler.NodeHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain:
// CORS → logging → auth → mux.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	}

	if o := handlers.Oracle; o != nil {
		mux.HandleFunc("GET /api/status", o.GetStatus)
		mux.HandleFunc("POST /api/cycles/trigger", o.TriggerCycle)
		mux.HandleFunc("GET /api/cycles", o.ListCycles)
		mux.HandleFunc("GET /api/markets/{id}", o.GetMarket)
		mux.HandleFunc("GET /api/markets/{id}/outcomes", o.ListMarketOutcomes)
		mux.HandleFunc("GET /api/audit", o.ListAudit)
	}

	if n := handlers.Node; n != nil {
		limit := func(h http.HandlerFunc) http.Handler { return h }
		if cfg.Limiter != nil && cfg.RateLimit > 0 {
			rl := middleware.RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, logger)
			limit = func(h http.HandlerFunc) http.Handler { return rl(h) }
		}
		mux.HandleFunc("GET /api/node/info", n.Info)
		mux.Handle("POST /api/node/observe", limit(n.Observe))
		mux.Handle("POST /api/node/sign", limit(n.Sign))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	h = middleware.Logging(logger, healthPath)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Long enough for POST /api/cycles/trigger?wait=true.
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
