package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/yllvar/Compound-Explorer/internal/domain"
	"github.com/yllvar/Compound-Explorer/internal/scheduler"
	"github.com/yllvar/Compound-Explorer/internal/server"
	"github.com/yllvar/Compound-Explorer/internal/server/handler"
)

// rateLister is the slice of the registry the modes use.
type rateLister interface {
	Rates(ctx context.Context, account common.Address) ([]domain.PositionRate, []domain.PositionFailure, error)
}

// runner is the slice of the pipeline the modes use.
type runner interface {
	Reinvest(ctx context.Context) (domain.PipelineRun, error)
	Seed(ctx context.Context, amount decimal.Decimal) (domain.PipelineRun, error)
}

// RunMode performs the startup sequence, then fires the reinvestment pipeline
// on the configured schedule until ctx is cancelled. The HTTP API runs beside
// the scheduler when enabled.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode", slog.String("schedule", a.cfg.Farming.Schedule))

	loc, err := a.cfg.Farming.Location()
	if err != nil {
		return fmt.Errorf("app: timezone: %w", err)
	}
	sched, err := scheduler.Parse(a.cfg.Farming.Schedule, loc)
	if err != nil {
		return fmt.Errorf("app: schedule: %w", err)
	}
	seed, err := a.cfg.Farming.Seed()
	if err != nil {
		return fmt.Errorf("app: seed amount: %w", err)
	}

	loop := scheduler.New(sched, func(ctx context.Context) {
		a.reinvest(ctx, deps.Pipeline)
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, loop)
	}

	g.Go(func() error {
		a.startup(ctx, deps.Registry, deps.Pipeline, deps.Account, seed)
		return loop.Run(ctx)
	})

	return g.Wait()
}

// OnceMode performs the startup sequence and returns.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	seed, err := a.cfg.Farming.Seed()
	if err != nil {
		return fmt.Errorf("app: seed amount: %w", err)
	}
	a.startup(ctx, deps.Registry, deps.Pipeline, deps.Account, seed)
	return nil
}

// PositionsMode prints the account's positions with their estimated annual
// rates and returns. Unlike the startup report, a failed market listing is an
// error here.
func (a *App) PositionsMode(ctx context.Context, deps *Dependencies) error {
	return a.printPositions(ctx, os.Stdout, deps.Registry, deps.Account)
}

func (a *App) printPositions(ctx context.Context, w io.Writer, rates rateLister, account common.Address) error {
	list, failures, err := rates.Rates(ctx, account)
	if err != nil {
		return fmt.Errorf("app: list positions: %w", err)
	}

	fmt.Fprintf(w, "%-10s %-42s %12s\n", "MARKET", "ADDRESS", "APY")
	for _, pr := range list {
		fmt.Fprintf(w, "%-10s %-42s %11s%%\n",
			pr.Position.Symbol, pr.Position.Market.Hex(), pr.APY.StringFixed(2))
	}
	for _, f := range failures {
		fmt.Fprintf(w, "%-10s %-42s %12s\n", "?", f.Market.Hex(), "error")
		a.logger.WarnContext(ctx, "position read failed",
			slog.String("market", f.Market.Hex()),
			slog.String("error", f.Err.Error()),
		)
	}
	return nil
}

// startup runs the fixed startup sequence: report positions, deposit the seed
// amount, reinvest once. No step aborts the sequence; each failure is logged
// and reported by the pipeline. A shutdown request stops the sequence between
// steps but never interrupts a step.
func (a *App) startup(ctx context.Context, rates rateLister, runs runner, account common.Address, seed decimal.Decimal) {
	a.reportPositions(ctx, rates, account)

	if ctx.Err() != nil {
		a.logger.InfoContext(ctx, "shutdown requested; skipping seed deposit")
		return
	}
	if seed.IsPositive() {
		if _, err := runs.Seed(ctx, seed); err != nil {
			a.logRefused(ctx, "seed", err)
		}
	} else {
		a.logger.InfoContext(ctx, "no seed amount configured; skipping seed deposit")
	}

	if ctx.Err() != nil {
		a.logger.InfoContext(ctx, "shutdown requested; skipping startup reinvestment")
		return
	}
	a.reinvest(ctx, runs)
}

// reportPositions logs each position's estimated annual rate. It is
// informational only.
func (a *App) reportPositions(ctx context.Context, rates rateLister, account common.Address) {
	list, failures, err := rates.Rates(ctx, account)
	if err != nil {
		a.logger.WarnContext(ctx, "position report failed", slog.String("error", err.Error()))
		return
	}
	for _, pr := range list {
		a.logger.InfoContext(ctx, "position",
			slog.String("symbol", pr.Position.Symbol),
			slog.String("market", pr.Position.Market.Hex()),
			slog.Bool("native", pr.Position.IsNative()),
			slog.String("apy_pct", pr.APY.StringFixed(4)),
		)
	}
	for _, f := range failures {
		a.logger.WarnContext(ctx, "position read failed",
			slog.String("market", f.Market.Hex()),
			slog.String("error", f.Err.Error()),
		)
	}
	a.logger.InfoContext(ctx, "position report complete",
		slog.Int("positions", len(list)),
		slog.Int("failures", len(failures)),
	)
}

// reinvest is the single entry point the scheduler and the startup sequence
// invoke.
func (a *App) reinvest(ctx context.Context, runs runner) {
	if _, err := runs.Reinvest(ctx); err != nil {
		a.logRefused(ctx, "reinvest", err)
	}
}

func (a *App) logRefused(ctx context.Context, kind string, err error) {
	switch {
	case errors.Is(err, domain.ErrRunInFlight), errors.Is(err, domain.ErrLockHeld):
		a.logger.WarnContext(ctx, "run refused; another run is in flight",
			slog.String("kind", kind),
			slog.String("reason", err.Error()),
		)
	default:
		a.logger.ErrorContext(ctx, "run refused",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

// startHTTPServer registers the control API and runs it inside g until ctx is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, loop *scheduler.Scheduler) {
	h := server.Handlers{
		Health: handler.NewHealthHandler(),
		Status: handler.NewStatusHandler(a.cfg.Mode, deps.Account.Hex(), a.cfg.Farming.Schedule,
			deps.Pipeline, loop.NextFire),
		Positions: handler.NewPositionHandler(deps.Registry, deps.Account, a.logger),
		Reinvest:  handler.NewReinvestHandler(deps.Pipeline, loop, a.logger),
	}
	if deps.AuditStore != nil {
		h.Runs = handler.NewRunsHandler(deps.AuditStore, a.logger)
	}
	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "HTTP server: no api_key configured; endpoints are unauthenticated")
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, h, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
