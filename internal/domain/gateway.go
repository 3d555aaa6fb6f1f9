package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ContractKind selects the ABI used to encode calls to a contract.
type ContractKind string

const (
	KindComptroller ContractKind = "comptroller"
	KindCToken      ContractKind = "ctoken"
	KindERC20       ContractKind = "erc20"
)

// Contract identifies a deployed contract and the interface it speaks.
type Contract struct {
	Kind    ContractKind
	Address common.Address
}

// TxStatus is the terminal status of a state-changing call.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TransactionOutcome is the result of one state-changing call. It is logged
// and reported, never persisted by the pipeline itself.
type TransactionOutcome struct {
	Method      string
	Contract    common.Address
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      TxStatus
	Reason      string
}

// ChainGateway is the narrow interface the core uses to reach the ledger.
// Send is bound to the single configured account and blocks until the
// transaction is mined or definitively fails.
type ChainGateway interface {
	Call(ctx context.Context, c Contract, method string, args ...any) ([]any, error)
	Send(ctx context.Context, c Contract, method string, args ...any) (TransactionOutcome, error)
	ToBaseUnits(ctx context.Context, amount decimal.Decimal, symbol string) (*big.Int, error)
}
