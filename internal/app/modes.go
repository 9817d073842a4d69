package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coinduel/internal/server"
	"github.com/alanyoungcy/coinduel/internal/server/handler"
	"github.com/alanyoungcy/coinduel/internal/server/ws"
)

// shutdownGrace is how long in-flight HTTP requests get to complete after the
// run context is cancelled.
const shutdownGrace = 10 * time.Second

// archiveSweepInterval is how often the archival sweep runs. Archival is not
// latency-sensitive; once an hour keeps the cold store close behind.
const archiveSweepInterval = time.Hour

// ServerMode runs the HTTP + WebSocket API serving the bet lifecycle
// endpoints. Settlement still happens in this mode, but only on demand
// through the settle endpoint; the background sweeper belongs to SettlerMode.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "redis disabled; websocket endpoint will not stream events")
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AuthSkewMax: a.cfg.Server.AuthSkewMax.Duration,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.logger),
			Bets:   handler.NewBetHandler(deps.Registry, a.cfg.Wager.Window.Duration, a.logger),
			Price:  handler.NewPriceHandler(deps.Registry, a.cfg.Wager.Threshold, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// SettlerMode runs the background sweeper: it periodically settles every
// activated bet whose window has elapsed and, when S3 archival is configured,
// ships long-settled bets to cold storage.
func (a *App) SettlerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settler mode",
		slog.Duration("interval", a.cfg.Settler.Interval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runSettleSweep(ctx, deps)
	})

	if deps.Archiver != nil && a.cfg.Settler.ArchiveAfter.Duration > 0 {
		g.Go(func() error {
			return a.runArchiveSweep(ctx, deps)
		})
	}

	return g.Wait()
}

// FullMode runs the API server and the settlement sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ServerMode(ctx, deps)
	})
	g.Go(func() error {
		return a.SettlerMode(ctx, deps)
	})
	return g.Wait()
}

// runSettleSweep settles due bets on a fixed interval until the context is
// cancelled. A failed sweep is logged and retried on the next tick.
func (a *App) runSettleSweep(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Settler.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			settled, err := deps.Registry.SettleDue(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "settle sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if settled > 0 {
				a.logger.InfoContext(ctx, "settle sweep complete",
					slog.Int("settled", settled),
				)
			}
		}
	}
}

// runArchiveSweep ships bets settled longer than ArchiveAfter ago to S3.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(archiveSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.cfg.Settler.ArchiveAfter.Duration)
			count, err := deps.Archiver.ArchiveClosedBets(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archive sweep complete",
					slog.Int64("archived", count),
				)
			}
		}
	}
}
