// Package chain implements domain.ChainGateway on top of go-ethereum. Reads
// are eth_call at the latest block; writes are EIP-1559 transactions signed
// locally and followed until their receipt is available.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// Backend is the subset of an Ethereum node the gateway needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// TxSigner signs transactions for the account the gateway sends from.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Token registers a symbol usable with ToBaseUnits.
type Token struct {
	Symbol  string
	Address common.Address
}

// Options tunes call and confirmation behaviour.
type Options struct {
	ConfirmTimeout     time.Duration
	ReceiptPoll        time.Duration
	CallTimeout        time.Duration
	GasLimitMultiplier float64
	// DecimalsOverride skips the on-chain decimals() lookup for a symbol.
	DecimalsOverride map[string]int
}

func (o *Options) setDefaults() {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 10 * time.Minute
	}
	if o.ReceiptPoll <= 0 {
		o.ReceiptPoll = 3 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.GasLimitMultiplier < 1 {
		o.GasLimitMultiplier = 1
	}
}

// Gateway is the go-ethereum implementation of domain.ChainGateway. Send is
// bound to the signer's account.
type Gateway struct {
	backend Backend
	signer  TxSigner
	abis    map[domain.ContractKind]abi.ABI
	opts    Options
	logger  *slog.Logger

	tokens map[string]common.Address

	decMu    sync.Mutex
	decimals map[string]int32

	// sendMu keeps nonce assignment and submission together.
	sendMu sync.Mutex
}

// Dial connects to the node at rawURL (http(s) or ws(s)).
func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial node: %w", err)
	}
	return c, nil
}

// NewGateway builds a Gateway sending from signer's account.
func NewGateway(backend Backend, signer TxSigner, tokens []Token, opts Options, logger *slog.Logger) (*Gateway, error) {
	if backend == nil || signer == nil {
		return nil, errors.New("chain: backend and signer are required")
	}
	abis, err := ParseABIs()
	if err != nil {
		return nil, err
	}
	opts.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		backend:  backend,
		signer:   signer,
		abis:     abis,
		opts:     opts,
		logger:   logger.With(slog.String("component", "chain")),
		tokens:   make(map[string]common.Address, len(tokens)),
		decimals: make(map[string]int32),
	}
	for _, t := range tokens {
		g.tokens[symbolKey(t.Symbol)] = t.Address
	}
	for sym, d := range opts.DecimalsOverride {
		g.decimals[symbolKey(sym)] = int32(d)
	}
	return g, nil
}

// VerifyChainID checks the node serves the chain the signer signs for.
func (g *Gateway) VerifyChainID(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
	defer cancel()

	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain: chain id: %w: %w", domain.ErrReadFailed, err)
	}
	if id.Cmp(g.signer.ChainID()) != 0 {
		return fmt.Errorf("chain: node serves chain %s, signer configured for %s", id, g.signer.ChainID())
	}
	return nil
}

// Account is the address every Send originates from.
func (g *Gateway) Account() common.Address {
	return g.signer.Address()
}

func (g *Gateway) pack(c domain.Contract, method string, args []any) (abi.ABI, []byte, error) {
	parsed, ok := g.abis[c.Kind]
	if !ok {
		return abi.ABI{}, nil, fmt.Errorf("chain: no abi for contract kind %q", c.Kind)
	}
	if _, ok := parsed.Methods[method]; !ok {
		return abi.ABI{}, nil, fmt.Errorf("chain: %s.%s: %w", c.Kind, method, domain.ErrUnknownMethod)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("chain: pack %s.%s: %w", c.Kind, method, err)
	}
	return parsed, data, nil
}

// Call performs a read-only invocation and returns the decoded outputs.
func (g *Gateway) Call(ctx context.Context, c domain.Contract, method string, args ...any) ([]any, error) {
	parsed, data, err := g.pack(c, method, args)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
	defer cancel()

	to := c.Address
	out, err := g.backend.CallContract(ctx, ethereum.CallMsg{
		From: g.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("chain: call %s on %s: %w: %w: %w", method, c.Address.Hex(), domain.ErrReadFailed, domain.ErrCallReverted, err)
		}
		return nil, fmt.Errorf("chain: call %s on %s: %w: %w", method, c.Address.Hex(), domain.ErrReadFailed, err)
	}
	if len(out) == 0 && len(parsed.Methods[method].Outputs) > 0 {
		// A contract without the method may fall through to a fallback that
		// returns nothing.
		return nil, fmt.Errorf("chain: call %s on %s: %w: %w: empty return data", method, c.Address.Hex(), domain.ErrReadFailed, domain.ErrCallReverted)
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w: %w", method, domain.ErrReadFailed, err)
	}
	return values, nil
}

// Send submits a state-changing invocation from the configured account and
// blocks until it is mined, reverted, rejected or times out. The returned
// outcome is populated as far as the transaction got.
func (g *Gateway) Send(ctx context.Context, c domain.Contract, method string, args ...any) (domain.TransactionOutcome, error) {
	out := domain.TransactionOutcome{
		Method:   method,
		Contract: c.Address,
		Status:   domain.TxFailed,
	}

	_, data, err := g.pack(c, method, args)
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}

	signed, err := g.submit(ctx, c.Address, data)
	if signed != nil {
		out.TxHash = signed.Hash()
	}
	if err != nil {
		out.Reason = err.Error()
		return out, err
	}

	log := g.logger.With(
		slog.String("method", method),
		slog.String("tx_hash", out.TxHash.Hex()),
	)
	log.Info("transaction submitted", slog.String("contract", c.Address.Hex()))

	receipt, err := g.waitMined(ctx, out.TxHash)
	if err != nil {
		out.Reason = err.Error()
		log.Warn("transaction not confirmed", slog.String("error", err.Error()))
		return out, err
	}

	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	out.GasUsed = receipt.GasUsed

	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Reason = "execution reverted"
		log.Warn("transaction reverted", slog.Uint64("block", out.BlockNumber))
		return out, fmt.Errorf("chain: %s %s: %w", method, out.TxHash.Hex(), domain.ErrTxReverted)
	}

	out.Status = domain.TxConfirmed
	log.Info("transaction confirmed",
		slog.Uint64("block", out.BlockNumber),
		slog.Uint64("gas_used", out.GasUsed),
	)
	return out, nil
}

// submit builds, signs and broadcasts the transaction. The signed transaction
// is returned whenever signing succeeded so the caller can report its hash.
func (g *Gateway) submit(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
	defer cancel()

	from := g.signer.Address()

	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w: %w", domain.ErrTxRejected, err)
	}
	tip, err := g.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest tip: %w: %w", domain.ErrTxRejected, err)
	}
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w: %w", domain.ErrTxRejected, err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      data,
	})
	if err != nil {
		// A revert during estimation means the node would refuse the call.
		return nil, fmt.Errorf("chain: estimate gas: %w: %w", domain.ErrTxRejected, err)
	}
	gas = scaleGas(gas, g.opts.GasLimitMultiplier)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.signer.ChainID(),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})
	signed, err := g.signer.SignTx(tx)
	if err != nil {
		return nil, fmt.Errorf("chain: sign: %w: %w", domain.ErrTxRejected, err)
	}

	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return signed, fmt.Errorf("chain: send %s: %w: %w", signed.Hash().Hex(), domain.ErrTxRejected, err)
	}
	return signed, nil
}

// waitMined polls for the receipt until it appears or ConfirmTimeout elapses.
// Lookup errors other than "not found" are treated as transient.
func (g *Gateway) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.opts.ReceiptPoll)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			lastErr = err
			g.logger.Debug("receipt lookup failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("chain: wait %s: %w (last error: %v)", hash.Hex(), domain.ErrTxTimeout, lastErr)
			}
			return nil, fmt.Errorf("chain: wait %s: %w", hash.Hex(), domain.ErrTxTimeout)
		case <-ticker.C:
		}
	}
}

// ToBaseUnits converts a human-readable amount of symbol into integer base
// units using the token's decimals.
func (g *Gateway) ToBaseUnits(ctx context.Context, amount decimal.Decimal, symbol string) (*big.Int, error) {
	d, err := g.tokenDecimals(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(amount, d)
}

func (g *Gateway) tokenDecimals(ctx context.Context, symbol string) (int32, error) {
	key := symbolKey(symbol)

	g.decMu.Lock()
	d, ok := g.decimals[key]
	g.decMu.Unlock()
	if ok {
		return d, nil
	}

	addr, ok := g.tokens[key]
	if !ok {
		return 0, fmt.Errorf("chain: %q: %w", symbol, domain.ErrUnknownToken)
	}
	res, err := g.Call(ctx, domain.Contract{Kind: domain.KindERC20, Address: addr}, "decimals")
	if err != nil {
		return 0, err
	}
	raw, ok := res[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals of %s: unexpected type %T", symbol, res[0])
	}

	g.decMu.Lock()
	g.decimals[key] = int32(raw)
	g.decMu.Unlock()
	return int32(raw), nil
}

// isRevert reports whether err is the node refusing the call during
// execution rather than a transport or node failure. Geth-style nodes attach
// revert data to a JSON-RPC error; others only say so in the message.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func symbolKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func scaleGas(gas uint64, mult float64) uint64 {
	scaled := math.Ceil(float64(gas) * mult)
	if scaled >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(scaled)
}

var _ domain.ChainGateway = (*Gateway)(nil)
