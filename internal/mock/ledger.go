// Package mock provides in-memory implementations of the bot's external
// collaborators for tests.
package mock

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"liquidator/internal/core"
)

type loanKey struct {
	cooler common.Address
	loanID uint256.Int
}

// MockLedger implements core.ILedgerClient backed by maps the test mutates
// directly to simulate on-chain state transitions.
type MockLedger struct {
	mu           sync.Mutex
	loans        map[loanKey]core.Loan
	originations []core.Origination
	gasEstimate  uint64
	gasPrice     *big.Int
	claimTo      common.Address

	// Failure injection
	GetLoanErr     error
	HistoryErr     error
	BuildClaimErr  error
	EstimateErr    error
	GasPriceErr    error
	GetLoanCalls   int
	BuiltClaimSets [][]loanKey
}

// NewMockLedger creates a ledger with default gas settings: 100k units at
// 1 gwei.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		loans:       make(map[loanKey]core.Loan),
		gasEstimate: 100_000,
		gasPrice:    big.NewInt(1_000_000_000),
		claimTo:     common.HexToAddress("0x00000000000000000000000000000000c1ea4109"),
	}
}

// SetLoan installs or overwrites the on-chain view of a loan.
func (m *MockLedger) SetLoan(cooler common.Address, loanID, collateral, expiry *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[loanKey{cooler, *loanID}] = core.Loan{Collateral: collateral.Clone(), Expiry: expiry.Clone()}
}

// AddOrigination appends a cleared-loan record to the history.
func (m *MockLedger) AddOrigination(cooler common.Address, requestID, loanID *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.originations = append(m.originations, core.Origination{
		Cooler:    cooler,
		RequestID: requestID.Clone(),
		LoanID:    loanID.Clone(),
	})
}

// SetGas overrides the gas estimate and gas price returned to the engine.
func (m *MockLedger) SetGas(estimate uint64, price *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gasEstimate = estimate
	m.gasPrice = price
}

func (m *MockLedger) GetLoan(ctx context.Context, cooler common.Address, loanID *uint256.Int) (core.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetLoanCalls++
	if m.GetLoanErr != nil {
		return core.Loan{}, m.GetLoanErr
	}
	loan, ok := m.loans[loanKey{cooler, *loanID}]
	if !ok {
		return core.Loan{}, fmt.Errorf("unknown loan %s/%s", cooler.Hex(), loanID.String())
	}
	return core.Loan{Collateral: loan.Collateral.Clone(), Expiry: loan.Expiry.Clone()}, nil
}

func (m *MockLedger) OriginationHistory(ctx context.Context, fromBlock uint64) ([]core.Origination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	out := make([]core.Origination, len(m.originations))
	copy(out, m.originations)
	return out, nil
}

func (m *MockLedger) BuildClaimTx(ctx context.Context, coolers []common.Address, loanIDs []*uint256.Int) (*gethtypes.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BuildClaimErr != nil {
		return nil, m.BuildClaimErr
	}
	set := make([]loanKey, len(coolers))
	for i := range coolers {
		set[i] = loanKey{coolers[i], *loanIDs[i]}
	}
	m.BuiltClaimSets = append(m.BuiltClaimSets, set)
	return gethtypes.NewTx(&gethtypes.LegacyTx{To: &m.claimTo, Data: []byte{0xde, 0xfa}}), nil
}

func (m *MockLedger) EstimateGas(ctx context.Context, tx *gethtypes.Transaction) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EstimateErr != nil {
		return 0, m.EstimateErr
	}
	return m.gasEstimate, nil
}

func (m *MockLedger) GasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GasPriceErr != nil {
		return nil, m.GasPriceErr
	}
	return new(big.Int).Set(m.gasPrice), nil
}

var _ core.ILedgerClient = (*MockLedger)(nil)
