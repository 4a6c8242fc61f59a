package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/server"
	"github.com/alanyoungcy/perpbot/internal/server/handler"
	"github.com/alanyoungcy/perpbot/internal/server/ws"
)

// MonitorMode runs the engine alone: the monitoring supervisor, the order
// ledger sweep and the intent executor.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps); err != nil {
		return err
	}
	return ignoreCancel(g.Wait())
}

// ServerMode runs the engine behind the HTTP/WS API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)
	return ignoreCancel(g.Wait())
}

// FullMode runs everything, including the archive job when it is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startEngine(ctx, g, deps); err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		retention := a.cfg.Archive.Retention()
		a.logger.InfoContext(ctx, "app: archive job enabled",
			slog.String("interval", interval.String()),
			slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		)
		g.Go(func() error {
			return deps.Archiver.Run(ctx, interval, retention)
		})
	} else if a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "app: archive enabled but postgres is not; archive job skipped")
	}

	return ignoreCancel(g.Wait())
}

// startEngine restores pending orders and launches the long-running engine
// goroutines, then starts monitoring for the configured wallets.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	n, err := deps.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("app: load pending orders: %w", err)
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "app: pending orders restored", slog.Int("count", n))
	}

	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	g.Go(func() error {
		return deps.Ledger.Run(ctx, a.cfg.Orders.SweepInterval.Duration)
	})
	if deps.Executor != nil {
		g.Go(func() error {
			return deps.Executor.Run(ctx)
		})
	}

	for _, wallet := range a.cfg.Monitor.Wallets {
		if err := deps.Monitor.Start(ctx, wallet); err != nil {
			a.logger.WarnContext(ctx, "app: could not start monitoring",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// startHTTPServer builds the handlers and runs the API and the websocket
// fan-out under g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	// Nil services must reach the handlers as nil interfaces.
	var (
		history   handler.PositionHistory
		analytics handler.AnalyticsReader
	)
	if deps.Positions != nil {
		history = deps.Positions
	}
	if deps.Analytics != nil {
		analytics = deps.Analytics
	}

	h := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Monitor, a.cfg.Mode, a.startedAt),
		Monitor:       handler.NewMonitorHandler(deps.Monitor, a.logger),
		Notifications: handler.NewNotificationHandler(deps.Hub),
		Orders:        handler.NewOrderHandler(deps.Ledger, a.logger),
		Positions:     handler.NewPositionHandler(deps.Tracker, history, a.logger),
		Analytics:     handler.NewAnalyticsHandler(analytics, a.logger),
	}
	if deps.Executor != nil {
		h.Trades = handler.NewTradeHandler(deps.Executor, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{AllowedOrigins: a.cfg.Server.CORSOrigins}, a.logger)
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// ignoreCancel treats a context cancellation as a clean stop.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
