// Package chain implements the Loan Ledger Client against the lending
// protocol's on-chain contracts, behind a narrow RPC interface so tests can
// substitute a fake node.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"liquidator/internal/core"
	apperrors "liquidator/pkg/errors"
)

// EVMClient is the subset of the Ethereum RPC the ledger client uses.
type EVMClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Dial initialises an EVM RPC client for the provided endpoint. Both ws://
// and https:// endpoints are supported; subscriptions need ws.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// Config identifies the protocol deployment and the querying wallet.
type Config struct {
	Factory       common.Address
	Clearinghouse common.Address
	// From is the wallet address used for gas estimation of claim calls.
	From common.Address
	// QueriesPerSecond bounds read load during backfill; zero disables
	// the limiter.
	QueriesPerSecond float64
}

// Client implements core.ILedgerClient.
type Client struct {
	evm     EVMClient
	cfg     Config
	limiter *rate.Limiter
	logger  core.ILogger

	factoryABI       abi.ABI
	coolerLoanABI    abi.ABI
	clearinghouseAPI abi.ABI
}

// NewClient parses the contract fragments and builds a ledger client.
func NewClient(evm EVMClient, cfg Config, logger core.ILogger) (*Client, error) {
	factory, err := abi.JSON(strings.NewReader(coolerFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	cooler, err := abi.JSON(strings.NewReader(coolerABI))
	if err != nil {
		return nil, fmt.Errorf("parse cooler abi: %w", err)
	}
	clearinghouse, err := abi.JSON(strings.NewReader(clearinghouseABI))
	if err != nil {
		return nil, fmt.Errorf("parse clearinghouse abi: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.QueriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}

	return &Client{
		evm:              evm,
		cfg:              cfg,
		limiter:          limiter,
		logger:           logger.WithField("component", "ledger_client"),
		factoryABI:       factory,
		coolerLoanABI:    cooler,
		clearinghouseAPI: clearinghouse,
	}, nil
}

// coolerLoan mirrors the getLoan return tuple.
type coolerLoan struct {
	Request struct {
		Amount           *big.Int
		Interest         *big.Int
		LoanToCollateral *big.Int
		Duration         *big.Int
		Active           bool
	}
	Amount      *big.Int
	Unclaimed   *big.Int
	Collateral  *big.Int
	Expiry      *big.Int
	Lender      common.Address
	RepayDirect bool
	Callback    bool
}

// GetLoan reads one loan's current collateral and expiry from its cooler.
func (c *Client) GetLoan(ctx context.Context, cooler common.Address, loanID *uint256.Int) (core.Loan, error) {
	if err := c.wait(ctx); err != nil {
		return core.Loan{}, err
	}

	data, err := c.coolerLoanABI.Pack("getLoan", loanID.ToBig())
	if err != nil {
		return core.Loan{}, fmt.Errorf("pack getLoan: %w", err)
	}

	res, err := c.evm.CallContract(ctx, ethereum.CallMsg{To: &cooler, Data: data}, nil)
	if err != nil {
		return core.Loan{}, fmt.Errorf("%w: getLoan %s/%s: %v", apperrors.ErrLedgerQuery, cooler.Hex(), loanID.String(), err)
	}

	out, err := c.coolerLoanABI.Unpack("getLoan", res)
	if err != nil {
		return core.Loan{}, fmt.Errorf("unpack getLoan: %w", err)
	}
	loan := *abi.ConvertType(out[0], new(coolerLoan)).(*coolerLoan)

	collateral, overflow := uint256.FromBig(loan.Collateral)
	if overflow {
		return core.Loan{}, fmt.Errorf("%w: collateral out of range", apperrors.ErrOverflow)
	}
	expiry, overflow := uint256.FromBig(loan.Expiry)
	if overflow {
		return core.Loan{}, fmt.Errorf("%w: expiry out of range", apperrors.ErrOverflow)
	}
	return core.Loan{Collateral: collateral, Expiry: expiry}, nil
}

// OriginationHistory scans the factory's ClearRequest logs from fromBlock to
// head and returns them in chain order.
func (c *Client) OriginationHistory(ctx context.Context, fromBlock uint64) ([]core.Origination, error) {
	logs, err := c.evm.FilterLogs(ctx, c.OriginationQuery(fromBlock))
	if err != nil {
		return nil, fmt.Errorf("%w: filter ClearRequest: %v", apperrors.ErrBackfill, err)
	}

	out := make([]core.Origination, 0, len(logs))
	for _, lg := range logs {
		origination, err := c.parseClearRequest(lg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrBackfill, err)
		}
		out = append(out, origination)
	}
	return out, nil
}

// BuildClaimTx packs a claimDefaulted call for the given set of loans. The
// transaction is unsigned and carries no nonce or gas; the executor fills
// those at submission time.
func (c *Client) BuildClaimTx(ctx context.Context, coolers []common.Address, loanIDs []*uint256.Int) (*gethtypes.Transaction, error) {
	if len(coolers) != len(loanIDs) {
		return nil, fmt.Errorf("claim set mismatch: %d coolers, %d loans", len(coolers), len(loanIDs))
	}

	loans := make([]*big.Int, len(loanIDs))
	for i, id := range loanIDs {
		loans[i] = id.ToBig()
	}
	data, err := c.clearinghouseAPI.Pack("claimDefaulted", coolers, loans)
	if err != nil {
		return nil, fmt.Errorf("pack claimDefaulted: %w", err)
	}

	to := c.cfg.Clearinghouse
	return gethtypes.NewTx(&gethtypes.LegacyTx{
		To:       &to,
		Data:     data,
		GasPrice: new(big.Int),
	}), nil
}

// EstimateGas prices the claim call from the configured wallet.
func (c *Client) EstimateGas(ctx context.Context, tx *gethtypes.Transaction) (uint64, error) {
	gas, err := c.evm.EstimateGas(ctx, ethereum.CallMsg{
		From: c.cfg.From,
		To:   tx.To(),
		Data: tx.Data(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrGasEstimate, err)
	}
	return gas, nil
}

// GasPrice returns the node's suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.evm.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %v", apperrors.ErrLedgerQuery, err)
	}
	return price, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

var _ core.ILedgerClient = (*Client)(nil)
