// Package server exposes the engine over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/server/middleware"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers. Trades may be nil when no
// executor is configured, Analytics when the routes are not wanted.
type Handlers struct {
	Health        *handler.HealthHandler
	Monitor       *handler.MonitorHandler
	Notifications *handler.NotificationHandler
	Orders        *handler.OrderHandler
	Positions     *handler.PositionHandler
	Trades        *handler.TradeHandler
	Analytics     *handler.AnalyticsHandler
}

// Server is the HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in middleware. wsHub
// and limiter may be nil.
func NewServer(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, h, wsHub, limiter, logger),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the routed and wrapped handler.
func Routes(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/monitor/health", h.Health.MonitorHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/monitor/{wallet}/start", h.Monitor.Start)
	mux.HandleFunc("POST /api/monitor/{wallet}/stop", h.Monitor.Stop)
	mux.HandleFunc("GET /api/monitor/{wallet}/alerts", h.Monitor.ListAlerts)
	mux.HandleFunc("POST /api/monitor/{wallet}/alerts", h.Monitor.AddAlert)
	mux.HandleFunc("DELETE /api/monitor/{wallet}/alerts/{id}", h.Monitor.RemoveAlert)

	mux.HandleFunc("GET /api/notifications/{wallet}", h.Notifications.List)
	mux.HandleFunc("POST /api/notifications/{wallet}/read", h.Notifications.MarkRead)

	mux.HandleFunc("GET /api/orders/{wallet}", h.Orders.ListOrders)
	mux.HandleFunc("POST /api/orders/{wallet}", h.Orders.CreateOrder)
	mux.HandleFunc("DELETE /api/orders/{wallet}/{id}", h.Orders.CancelOrder)

	mux.HandleFunc("GET /api/positions/{wallet}", h.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{wallet}/risk", h.Positions.Risk)
	mux.HandleFunc("POST /api/positions/{wallet}/risk-check", h.Positions.RiskCheck)
	mux.HandleFunc("GET /api/positions/{wallet}/history", h.Positions.History)
	mux.HandleFunc("GET /api/stats/{wallet}", h.Positions.Stats)

	if h.Analytics != nil {
		mux.HandleFunc("GET /api/analytics/{wallet}/performance", h.Analytics.Performance)
		mux.HandleFunc("GET /api/analytics/{wallet}/exposure", h.Analytics.Exposure)
		mux.HandleFunc("GET /api/analytics/{wallet}/drawdown", h.Analytics.Drawdown)
	}
	if h.Trades != nil {
		mux.HandleFunc("POST /api/trade/{wallet}", h.Trades.Execute)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws/monitor/{wallet}", wsHub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(out)
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
