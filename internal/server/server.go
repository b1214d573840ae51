// Package server exposes the engine's control surface over HTTP, pushes
// events over websocket and serves Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/server/handler"
	"github.com/alanyoungcy/hedgebot/internal/server/middleware"
	"github.com/alanyoungcy/hedgebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards /api/engine/*; empty disables auth
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Engine    *handler.EngineHandler
	Positions *handler.PositionHandler
	Trades    *handler.TradeHandler
	Prices    *handler.PriceHandler
	Metrics   http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// limit, when non-nil, is applied to every request (per-IP rate limiting).
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limit func(http.Handler) http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Engine control. Mutations require the API key.
	mux.HandleFunc("GET /api/status", handlers.Engine.GetStatus)
	mux.Handle("POST /api/engine/start", auth(http.HandlerFunc(handlers.Engine.Start)))
	mux.Handle("POST /api/engine/stop", auth(http.HandlerFunc(handlers.Engine.Stop)))
	mux.Handle("POST /api/engine/emergency-stop", auth(http.HandlerFunc(handlers.Engine.EmergencyStop)))
	mux.Handle("POST /api/engine/live-mode", auth(http.HandlerFunc(handlers.Engine.SetLiveMode)))
	mux.Handle("POST /api/engine/capital", auth(http.HandlerFunc(handlers.Engine.AddCapital)))

	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)

	mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.GetTrade)
	mux.HandleFunc("GET /api/logs", handlers.Trades.ListLogs)
	mux.HandleFunc("GET /api/performance", handlers.Trades.Performance)
	mux.HandleFunc("GET /api/portfolio", handlers.Trades.Portfolio)

	mux.HandleFunc("GET /api/prices", handlers.Prices.LivePrices)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	var h http.Handler = mux
	if limit != nil {
		h = limit(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      90 * time.Second, // stop flattens the book before replying
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
