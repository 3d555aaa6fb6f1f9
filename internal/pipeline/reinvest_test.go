package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

var testCfg = Config{
	Account:          common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"),
	Comptroller:      common.HexToAddress("0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B"),
	CToken:           common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643"),
	Underlying:       common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
	Reward:           common.HexToAddress("0xc00e94Cb662C07889123658ff3BC9de462497c29"),
	UnderlyingSymbol: "DAI",
}

type op struct {
	send   bool
	addr   common.Address
	method string
	args   []any
}

type fakeGateway struct {
	mu       sync.Mutex
	ops      []op
	balance  *big.Int
	failures map[string]error
	block    chan struct{}
}

func newFakeGateway(balance int64) *fakeGateway {
	return &fakeGateway{balance: big.NewInt(balance), failures: map[string]error{}}
}

func (f *fakeGateway) record(o op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, o)
	return f.failures[o.method]
}

func (f *fakeGateway) Call(_ context.Context, c domain.Contract, method string, args ...any) ([]any, error) {
	if err := f.record(op{addr: c.Address, method: method, args: args}); err != nil {
		return nil, err
	}
	return []any{new(big.Int).Set(f.balance)}, nil
}

func (f *fakeGateway) Send(_ context.Context, c domain.Contract, method string, args ...any) (domain.TransactionOutcome, error) {
	if f.block != nil {
		<-f.block
	}
	out := domain.TransactionOutcome{Method: method, Contract: c.Address, TxHash: common.HexToHash("0x01"), Status: domain.TxConfirmed}
	if err := f.record(op{send: true, addr: c.Address, method: method, args: args}); err != nil {
		out.Status = domain.TxFailed
		out.Reason = err.Error()
		return out, err
	}
	return out, nil
}

func (f *fakeGateway) ToBaseUnits(_ context.Context, amount decimal.Decimal, symbol string) (*big.Int, error) {
	if symbol != "DAI" {
		return nil, domain.ErrUnknownToken
	}
	return amount.Shift(18).BigInt(), nil
}

func (f *fakeGateway) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.ops))
	for _, o := range f.ops {
		out = append(out, o.method)
	}
	return out
}

func (f *fakeGateway) reset() {
	f.mu.Lock()
	f.ops = nil
	f.mu.Unlock()
}

type recordingReporter struct {
	mu   sync.Mutex
	runs []domain.PipelineRun
}

func (r *recordingReporter) Report(_ context.Context, run domain.PipelineRun) {
	r.mu.Lock()
	r.runs = append(r.runs, run)
	r.mu.Unlock()
}

func TestReinvestPositiveBalance(t *testing.T) {
	gw := newFakeGateway(500_000_000_000_000_000)
	rep := &recordingReporter{}
	p := New(gw, testCfg, nil, WithReporter(rep))

	run, err := p.Reinvest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeReinvested, run.Outcome)
	assert.Equal(t, domain.StateDone, run.State)
	assert.True(t, run.Succeeded())
	assert.Equal(t, []string{"claimComp", "balanceOf", "approve", "mint"}, gw.methods())

	want := big.NewInt(500_000_000_000_000_000)
	approve, mint := gw.ops[2], gw.ops[3]
	assert.Equal(t, testCfg.Reward, approve.addr)
	assert.Equal(t, testCfg.CToken, approve.args[0])
	assert.Equal(t, want, approve.args[1])
	assert.Equal(t, testCfg.CToken, mint.addr)
	assert.Equal(t, want, mint.args[0])
	assert.Equal(t, testCfg.Account, gw.ops[0].args[0])

	assert.Len(t, run.Transactions, 3)
	require.Len(t, rep.runs, 1)
	assert.Equal(t, run.ID, rep.runs[0].ID)
}

func TestReinvestZeroBalanceIsNoop(t *testing.T) {
	gw := newFakeGateway(0)
	p := New(gw, testCfg, nil)

	run, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNothingToReinvest, run.Outcome)
	assert.True(t, run.Succeeded())
	assert.Equal(t, []string{"claimComp", "balanceOf"}, gw.methods())
}

func TestReinvestStopsAtFailedStep(t *testing.T) {
	tests := []struct {
		name     string
		failing  string
		step     domain.RunState
		wantOps  []string
		wantErrs error
	}{
		{"claim reverts", "claimComp", domain.StateClaiming, []string{"claimComp"}, domain.ErrTxReverted},
		{"balance unreadable", "balanceOf", domain.StateChecking, []string{"claimComp", "balanceOf"}, domain.ErrReadFailed},
		{"approve rejected", "approve", domain.StateApproving, []string{"claimComp", "balanceOf", "approve"}, domain.ErrTxRejected},
		{"deposit reverts", "mint", domain.StateDepositing, []string{"claimComp", "balanceOf", "approve", "mint"}, domain.ErrTxReverted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway(500_000_000_000_000_000)
			gw.failures[tc.failing] = fmt.Errorf("chain: %s: %w", tc.failing, tc.wantErrs)
			p := New(gw, testCfg, nil)

			run, err := p.Reinvest(context.Background())
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeFailed, run.Outcome)
			assert.Equal(t, domain.StateFailed, run.State)
			assert.Equal(t, tc.step, run.FailedStep)
			assert.Contains(t, run.Error, tc.failing)
			assert.Equal(t, tc.wantOps, gw.methods())
		})
	}
}

func TestConsecutiveRunsAreIndependent(t *testing.T) {
	gw := newFakeGateway(1_000)
	p := New(gw, testCfg, nil)
	full := []string{"claimComp", "balanceOf", "approve", "mint"}

	gw.failures["claimComp"] = domain.ErrTxReverted
	first, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, first.Outcome)

	delete(gw.failures, "claimComp")
	gw.reset()
	second, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReinvested, second.Outcome)
	assert.Equal(t, full, gw.methods())
	assert.NotEqual(t, first.ID, second.ID)

	gw.balance = big.NewInt(0)
	gw.reset()
	third, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNothingToReinvest, third.Outcome)

	gw.balance = big.NewInt(7)
	gw.reset()
	fourth, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, full, gw.methods())
	assert.Equal(t, "7", fourth.AmountString())
}

func TestReinvestRefusesWhileInFlight(t *testing.T) {
	gw := newFakeGateway(1)
	gw.block = make(chan struct{})
	p := New(gw, testCfg, nil)

	done := make(chan domain.PipelineRun)
	go func() {
		run, _ := p.Reinvest(context.Background())
		done <- run
	}()

	require.Eventually(t, func() bool { return p.Status().InFlight }, time.Second, time.Millisecond)

	_, err := p.Reinvest(context.Background())
	assert.ErrorIs(t, err, domain.ErrRunInFlight)

	close(gw.block)
	run := <-done
	assert.Equal(t, domain.OutcomeReinvested, run.Outcome)

	st := p.Status()
	assert.False(t, st.InFlight)
	require.NotNil(t, st.Last)
	assert.Equal(t, run.ID, st.Last.ID)
}

func TestReinvestRunsToCompletionAfterCancel(t *testing.T) {
	gw := newFakeGateway(1)
	p := New(gw, testCfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := p.Reinvest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReinvested, run.Outcome)
}

type fakeLocks struct {
	err      error
	acquired int
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func TestReinvestDistributedLock(t *testing.T) {
	locks := &fakeLocks{}
	gw := newFakeGateway(1)
	p := New(gw, testCfg, nil, WithLockManager(locks))

	_, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, locks.acquired)
	assert.Equal(t, 1, locks.released)

	locks.err = domain.ErrLockHeld
	gw.reset()
	_, err = p.Reinvest(context.Background())
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, gw.methods())

	// A lock backend outage falls back to the local guard.
	locks.err = errors.New("dial tcp: connection refused")
	run, err := p.Reinvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeReinvested, run.Outcome)
}

func TestSeed(t *testing.T) {
	gw := newFakeGateway(0)
	p := New(gw, testCfg, nil)

	run, err := p.Seed(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, domain.RunSeed, run.Kind)
	assert.Equal(t, domain.OutcomeSeeded, run.Outcome)
	assert.Equal(t, []string{"approve", "mint"}, gw.methods())

	want, _ := new(big.Int).SetString("100000000000000000000", 10)
	assert.Equal(t, testCfg.Underlying, gw.ops[0].addr)
	assert.Equal(t, want, gw.ops[0].args[1])
	assert.Equal(t, want, gw.ops[1].args[0])
}

func TestSeedApproveFailureSkipsDeposit(t *testing.T) {
	gw := newFakeGateway(0)
	gw.failures["approve"] = domain.ErrTxRejected
	p := New(gw, testCfg, nil)

	run, err := p.Seed(context.Background(), decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, run.Outcome)
	assert.Equal(t, domain.StateApproving, run.FailedStep)
	assert.Equal(t, []string{"approve"}, gw.methods())
}

func TestSeedUnknownSymbol(t *testing.T) {
	gw := newFakeGateway(0)
	cfg := testCfg
	cfg.UnderlyingSymbol = "USDT"
	p := New(gw, cfg, nil)

	run, err := p.Seed(context.Background(), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, domain.StateChecking, run.FailedStep)
	assert.Empty(t, gw.methods())
}
