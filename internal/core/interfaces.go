// Package core defines the shared types and interfaces of the liquidation bot.
package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ILedgerClient is the subset of the on-chain lending protocol the bot
// consumes: per-loan reads, the origination backfill, and the pieces needed
// to build and price a claim transaction.
type ILedgerClient interface {
	// GetLoan returns the current collateral and expiry for one loan.
	GetLoan(ctx context.Context, cooler common.Address, loanID *uint256.Int) (Loan, error)

	// OriginationHistory returns every loan cleared since fromBlock, in
	// chain order.
	OriginationHistory(ctx context.Context, fromBlock uint64) ([]Origination, error)

	// BuildClaimTx builds an unsigned transaction that claims the listed
	// defaulted loans against the clearinghouse.
	BuildClaimTx(ctx context.Context, coolers []common.Address, loanIDs []*uint256.Int) (*gethtypes.Transaction, error)

	// EstimateGas returns the gas units the transaction would consume.
	EstimateGas(ctx context.Context, tx *gethtypes.Transaction) (uint64, error)

	// GasPrice returns the current network gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)
}

// IPriceSource returns the current spot price of an asset in quote currency.
// Lookups may fail transiently; callers decide whether to retry or skip.
type IPriceSource interface {
	SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
