package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrReadFailed    = errors.New("chain read failed")
	// ErrCallReverted marks a read the contract itself refused: it reverted
	// or returned nothing. It is always wrapped together with ErrReadFailed.
	ErrCallReverted  = errors.New("call reverted")
	ErrTxRejected    = errors.New("transaction rejected")
	ErrTxReverted    = errors.New("transaction reverted")
	ErrTxTimeout     = errors.New("transaction confirmation timed out")
	ErrUnknownToken  = errors.New("unknown token symbol")
	ErrUnknownMethod = errors.New("unknown contract method")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrRunInFlight   = errors.New("run already in flight")
	ErrLockHeld      = errors.New("lock already held")
)
