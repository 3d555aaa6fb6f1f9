package domain

import (
	"math/big"
	"time"
)

// RunKind distinguishes the recurring reinvestment from the startup seed
// deposit. Both follow the same step and failure rules.
type RunKind string

const (
	RunReinvest RunKind = "reinvest"
	RunSeed     RunKind = "seed"
)

// RunState is a position in the linear pipeline state machine.
type RunState string

const (
	StateIdle       RunState = "idle"
	StateClaiming   RunState = "claiming"
	StateChecking   RunState = "checking"
	StateApproving  RunState = "approving"
	StateDepositing RunState = "depositing"
	StateDone       RunState = "done"
	StateFailed     RunState = "failed"
)

// RunOutcome summarises how a run ended.
type RunOutcome string

const (
	OutcomeReinvested        RunOutcome = "reinvested"
	OutcomeSeeded            RunOutcome = "seeded"
	OutcomeNothingToReinvest RunOutcome = "nothing_to_reinvest"
	OutcomeFailed            RunOutcome = "failed"
)

// PipelineRun is the record of one execution of the claim, check, approve,
// deposit sequence. Runs are independent: nothing in a PipelineRun is read
// by a later run.
type PipelineRun struct {
	ID           string
	Kind         RunKind
	State        RunState
	Outcome      RunOutcome
	FailedStep   RunState // set when Outcome is failed
	Error        string
	Amount       *big.Int // reward balance observed (reinvest) or seed amount
	Transactions []TransactionOutcome
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Succeeded reports whether the run ended without a failed step.
func (r PipelineRun) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}

// Duration is the wall-clock time the run took.
func (r PipelineRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AmountString renders Amount in base units, "0" when unset.
func (r PipelineRun) AmountString() string {
	if r.Amount == nil {
		return "0"
	}
	return r.Amount.String()
}
