// Package pipeline runs the reward reinvestment sequence: claim the accrued
// reward token, check the balance, approve it for the market and deposit it.
// Each run is a linear state machine that stops at the first failed step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// Config is the fixed contract and account configuration a Pipeline acts on.
type Config struct {
	Account          common.Address
	Comptroller      common.Address
	CToken           common.Address
	Underlying       common.Address
	Reward           common.Address
	UnderlyingSymbol string
	// LockTTL bounds the cross-process run lock. Zero selects 30 minutes.
	LockTTL time.Duration
}

// Reporter receives every finished run.
type Reporter interface {
	Report(ctx context.Context, run domain.PipelineRun)
}

// Status is a snapshot for the API.
type Status struct {
	InFlight bool
	Last     *domain.PipelineRun
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithLockManager adds a cross-process guard on top of the in-process one.
func WithLockManager(lm domain.LockManager) Option {
	return func(p *Pipeline) { p.locks = lm }
}

// WithReporter sets where finished runs are reported.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// Pipeline executes reinvestment and seed runs, one at a time.
type Pipeline struct {
	gw       domain.ChainGateway
	cfg      Config
	locks    domain.LockManager
	reporter Reporter
	logger   *slog.Logger
	now      func() time.Time

	running sync.Mutex

	statusMu sync.RWMutex
	inFlight bool
	last     *domain.PipelineRun
}

// New creates a Pipeline.
func New(gw domain.ChainGateway, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		gw:     gw,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "pipeline")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Reinvest performs one claim, check, approve, deposit run. The returned
// error is non-nil only when the run was refused because another run holds
// the guard; step failures are reported in the returned PipelineRun.
//
// Once started, a run is not cancelled by ctx.
func (p *Pipeline) Reinvest(ctx context.Context) (domain.PipelineRun, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	defer release()

	ctx = context.WithoutCancel(ctx)
	run := p.begin(domain.RunReinvest)
	p.execReinvest(ctx, &run)
	p.finish(ctx, &run)
	return run, nil
}

// execReinvest claims, checks and deposits the reward balance. A mined mint
// receipt counts as deposited: mint reports some failures through a non-zero
// error code instead of reverting, and that return value is not inspected
// because only the receipt of a sent transaction is available.
func (p *Pipeline) execReinvest(ctx context.Context, run *domain.PipelineRun) {
	comptroller := domain.Contract{Kind: domain.KindComptroller, Address: p.cfg.Comptroller}
	reward := domain.Contract{Kind: domain.KindERC20, Address: p.cfg.Reward}
	market := domain.Contract{Kind: domain.KindCToken, Address: p.cfg.CToken}

	if !p.send(ctx, run, domain.StateClaiming, comptroller, "claimComp", p.cfg.Account) {
		return
	}

	run.State = domain.StateChecking
	balance, err := p.balanceOf(ctx, reward)
	if err != nil {
		p.fail(run, domain.StateChecking, err)
		return
	}
	run.Amount = balance
	if balance.Sign() == 0 {
		run.State = domain.StateDone
		run.Outcome = domain.OutcomeNothingToReinvest
		return
	}

	if !p.send(ctx, run, domain.StateApproving, reward, "approve", p.cfg.CToken, balance) {
		return
	}
	if !p.send(ctx, run, domain.StateDepositing, market, "mint", balance) {
		return
	}

	run.State = domain.StateDone
	run.Outcome = domain.OutcomeReinvested
}

// Seed approves and deposits amount of the underlying asset. It follows the
// same guard and failure rules as Reinvest.
func (p *Pipeline) Seed(ctx context.Context, amount decimal.Decimal) (domain.PipelineRun, error) {
	release, err := p.acquire(ctx)
	if err != nil {
		return domain.PipelineRun{}, err
	}
	defer release()

	ctx = context.WithoutCancel(ctx)
	run := p.begin(domain.RunSeed)
	p.execSeed(ctx, &run, amount)
	p.finish(ctx, &run)
	return run, nil
}

// execSeed deposits amount of the underlying. Like execReinvest it does not
// inspect mint's error code.
func (p *Pipeline) execSeed(ctx context.Context, run *domain.PipelineRun, amount decimal.Decimal) {
	underlying := domain.Contract{Kind: domain.KindERC20, Address: p.cfg.Underlying}
	market := domain.Contract{Kind: domain.KindCToken, Address: p.cfg.CToken}

	run.State = domain.StateChecking
	base, err := p.gw.ToBaseUnits(ctx, amount, p.cfg.UnderlyingSymbol)
	if err != nil {
		p.fail(run, domain.StateChecking, err)
		return
	}
	run.Amount = base
	if base.Sign() == 0 {
		run.State = domain.StateDone
		run.Outcome = domain.OutcomeNothingToReinvest
		return
	}

	if !p.send(ctx, run, domain.StateApproving, underlying, "approve", p.cfg.CToken, base) {
		return
	}
	if !p.send(ctx, run, domain.StateDepositing, market, "mint", base) {
		return
	}

	run.State = domain.StateDone
	run.Outcome = domain.OutcomeSeeded
}

// Status reports whether a run is in flight and the last finished run.
func (p *Pipeline) Status() Status {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()

	s := Status{InFlight: p.inFlight}
	if p.last != nil {
		last := *p.last
		s.Last = &last
	}
	return s
}

// acquire takes the in-process guard and, when configured, the distributed
// lock. The returned func releases both.
func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	if !p.running.TryLock() {
		return nil, domain.ErrRunInFlight
	}

	unlock := func() {}
	if p.locks != nil {
		u, err := p.locks.Acquire(ctx, p.lockKey(), p.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			p.running.Unlock()
			return nil, domain.ErrLockHeld
		case err != nil:
			// The in-process guard still serializes this process.
			p.logger.Warn("run lock unavailable, continuing with local guard only",
				slog.String("error", err.Error()),
			)
		default:
			unlock = u
		}
	}

	p.setInFlight(true)
	return func() {
		p.setInFlight(false)
		unlock()
		p.running.Unlock()
	}, nil
}

func (p *Pipeline) lockKey() string {
	return "compfarm:run:" + p.cfg.Account.Hex()
}

func (p *Pipeline) setInFlight(v bool) {
	p.statusMu.Lock()
	p.inFlight = v
	p.statusMu.Unlock()
}

func (p *Pipeline) begin(kind domain.RunKind) domain.PipelineRun {
	run := domain.PipelineRun{
		ID:        uuid.New().String(),
		Kind:      kind,
		State:     domain.StateIdle,
		StartedAt: p.now(),
	}
	p.logger.Info("run started",
		slog.String("run_id", run.ID),
		slog.String("kind", string(kind)),
	)
	return run
}

// send executes one state-changing step and reports whether the run may
// continue.
func (p *Pipeline) send(ctx context.Context, run *domain.PipelineRun, step domain.RunState, c domain.Contract, method string, args ...any) bool {
	run.State = step
	out, err := p.gw.Send(ctx, c, method, args...)
	if out.Method != "" {
		run.Transactions = append(run.Transactions, out)
	}
	if err != nil {
		p.fail(run, step, err)
		return false
	}
	p.logger.Info("step confirmed",
		slog.String("run_id", run.ID),
		slog.String("step", string(step)),
		slog.String("tx_hash", out.TxHash.Hex()),
	)
	return true
}

func (p *Pipeline) balanceOf(ctx context.Context, token domain.Contract) (*big.Int, error) {
	res, err := p.gw.Call(ctx, token, "balanceOf", p.cfg.Account)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("pipeline: balanceOf: %w: no result", domain.ErrReadFailed)
	}
	b, ok := res[0].(*big.Int)
	if !ok || b == nil {
		return nil, fmt.Errorf("pipeline: balanceOf: %w: unexpected type %T", domain.ErrReadFailed, res[0])
	}
	return b, nil
}

func (p *Pipeline) fail(run *domain.PipelineRun, step domain.RunState, err error) {
	run.State = domain.StateFailed
	run.Outcome = domain.OutcomeFailed
	run.FailedStep = step
	run.Error = err.Error()
}

func (p *Pipeline) finish(ctx context.Context, run *domain.PipelineRun) {
	run.FinishedAt = p.now()

	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("kind", string(run.Kind)),
		slog.String("outcome", string(run.Outcome)),
		slog.String("amount", run.AmountString()),
		slog.Int("transactions", len(run.Transactions)),
		slog.Duration("duration", run.Duration()),
	}
	if run.Succeeded() {
		p.logger.Info("run finished", attrs...)
	} else {
		attrs = append(attrs,
			slog.String("failed_step", string(run.FailedStep)),
			slog.String("error", run.Error),
		)
		p.logger.Error("run failed", attrs...)
	}

	p.statusMu.Lock()
	last := *run
	p.last = &last
	p.statusMu.Unlock()

	if p.reporter != nil {
		p.reporter.Report(ctx, *run)
	}
}
