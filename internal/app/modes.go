package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictx-oracle/internal/pipeline"
	"github.com/alanyoungcy/predictx-oracle/internal/server"
	"github.com/alanyoungcy/predictx-oracle/internal/server/handler"
	"github.com/alanyoungcy/predictx-oracle/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// OracleMode runs the cron scheduler and, when enabled, the HTTP API and
// WebSocket hub until ctx is cancelled.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode",
		slog.String("schedule", deps.Scheduler.Spec()),
		slog.String("chain", deps.Network.Name),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		oracle := handler.NewOracleHandler(handler.OracleDeps{
			Scheduler: deps.Scheduler,
			Reader:    deps.Reader,
			History:   deps.History,
			Outcomes:  deps.OutcomeCache,
			Audit:     deps.AuditStore,
			ChainName: deps.Network.Name,
		}, a.logger)

		var hub *ws.Hub
		if deps.SignalBus != nil {
			hub = ws.NewHub(deps.SignalBus, oracle.Status, a.logger)
			g.Go(func() error {
				return hub.Run(ctx)
			})
		}

		a.startHTTPServer(ctx, g, server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		}, server.Handlers{
			Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
			Oracle: oracle,
		}, hub)
	}

	return g.Wait()
}

// OnceMode runs a single resolution cycle, prints its summary and returns.
// A cycle-fatal error is returned; per-market failures are not.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting single cycle", slog.String("chain", deps.Network.Name))

	if d := a.cfg.Workflow.CycleTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result, err := deps.Resolver.RunCycle(ctx)
	fmt.Fprintln(os.Stdout, result.Summary())
	if err != nil {
		return fmt.Errorf("app: cycle %s: %w", result.ID, err)
	}
	if result.Failed > 0 {
		a.logger.WarnContext(ctx, "cycle finished with market failures", slog.Int("failed", result.Failed))
	}
	return nil
}

// NodeMode serves this process's node key and data API access to a remote
// coordinator over HTTP.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode",
		slog.String("node_id", deps.NodeID),
		slog.String("address", deps.Node.Address().Hex()),
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)

	a.startHTTPServer(ctx, g, server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Node.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Node:   handler.NewNodeHandler(deps.NodeID, deps.Node, a.logger),
	}, nil)

	return g.Wait()
}

// startHTTPServer runs srv in g and shuts it down once ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, cfg server.Config, handlers server.Handlers, hub *ws.Hub) {
	srv := server.NewServer(cfg, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}

var _ handler.CycleTrigger = (*pipeline.Scheduler)(nil)
