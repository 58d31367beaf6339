package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidator/internal/core"
	"liquidator/internal/mock"
	"liquidator/internal/registry"
	"liquidator/internal/reward"
	apperrors "liquidator/pkg/errors"
	"liquidator/pkg/retry"
)

var (
	coolerA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	coolerB = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	// 10 collateral tokens keeps the per-loan reward pinned at the 0.1
	// token ceiling, so a 2.0 reward price yields 2e17 quote units.
	tenTokens = uint256.MustFromDecimal("10000000000000000000")

	expiry   = uint256.NewInt(1_700_000_000)
	fullRamp = expiry.Uint64() + reward.RampSeconds
)

func newTestEngine(t *testing.T, ledger *mock.MockLedger, prices *mock.MockPriceSource, cfg Config) *LiquidationEngine {
	t.Helper()
	if cfg.RewardAsset == "" {
		cfg.RewardAsset = "governance-ohm"
	}
	if cfg.NativeAsset == "" {
		cfg.NativeAsset = "ethereum"
	}
	eng := NewEngine(registry.New(ledger), ledger, prices, nil, nil, &mock.MockLogger{}, cfg)
	eng.retryPolicy = retry.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return eng
}

func defaultPrices() *mock.MockPriceSource {
	p := mock.NewMockPriceSource()
	p.SetPrice("governance-ohm", decimal.NewFromInt(2))
	// At 100k gas and 1 gwei the fee is 1e14 wei; 1200 quote per native
	// token prices that at 1.2e17 quote units.
	p.SetPrice("ethereum", decimal.NewFromInt(1200))
	return p
}

func block(ts uint64) core.NewBlock {
	return core.NewBlock{Number: 123, Timestamp: ts}
}

func TestSyncBackfillsRegistry(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.AddOrigination(coolerA, uint256.NewInt(1), uint256.NewInt(7))
	ledger.AddOrigination(coolerB, uint256.NewInt(2), uint256.NewInt(9))
	ledger.SetLoan(coolerA, uint256.NewInt(7), tenTokens, expiry)
	ledger.SetLoan(coolerB, uint256.NewInt(9), tenTokens, expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	require.NoError(t, eng.Sync(context.Background()))

	positions := eng.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, coolerA, positions[0].Cooler)
	assert.Equal(t, coolerB, positions[1].Cooler)
	assert.True(t, positions[0].Collateral.Eq(tenTokens))
}

func TestSyncFailureIsFatal(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.HistoryErr = errors.New("rpc down")

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	err := eng.Sync(context.Background())
	require.Error(t, err)

	// A loan-detail failure after retries is just as fatal.
	ledger.HistoryErr = nil
	ledger.AddOrigination(coolerA, uint256.NewInt(1), uint256.NewInt(7))
	ledger.GetLoanErr = errors.New("rpc down")
	require.Error(t, eng.Sync(context.Background()))
}

func TestRunRequiresSync(t *testing.T) {
	eng := newTestEngine(t, mock.NewMockLedger(), defaultPrices(), Config{})
	err := eng.Run(context.Background(), make(chan core.Event), make(chan core.Action))
	require.ErrorIs(t, err, apperrors.ErrNotSynced)
}

func TestProfitabilityGate(t *testing.T) {
	// Per-loan reward 2e17, gas cost 1.2e17, net 8e16.
	setup := func(minProfit *uint256.Int) (*LiquidationEngine, *mock.MockLedger) {
		ledger := mock.NewMockLedger()
		ledger.SetLoan(coolerA, uint256.NewInt(7), tenTokens, expiry)
		eng := newTestEngine(t, ledger, defaultPrices(), Config{MinProfit: minProfit})
		eng.registry.Insert(&registry.Position{
			Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: uint256.NewInt(7),
			Collateral: tenTokens.Clone(), Expiry: expiry.Clone(),
		})
		return eng, ledger
	}

	t.Run("net below min profit is not submitted", func(t *testing.T) {
		eng, _ := setup(uint256.MustFromDecimal("100000000000000000")) // 1e17 > 8e16
		actions := eng.ProcessEvent(context.Background(), block(fullRamp))
		assert.Empty(t, actions)
	})

	t.Run("net above min profit is submitted", func(t *testing.T) {
		eng, _ := setup(uint256.MustFromDecimal("30000000000000000")) // 3e16 < 8e16
		actions := eng.ProcessEvent(context.Background(), block(fullRamp))
		require.Len(t, actions, 1)
		submit, ok := actions[0].(core.SubmitTx)
		require.True(t, ok)
		require.NotNil(t, submit.Tx)
	})

	t.Run("gas cost at or above reward is never submitted", func(t *testing.T) {
		eng, _ := setup(uint256.NewInt(0))
		eng.prices.(*mock.MockPriceSource).SetPrice("ethereum", decimal.NewFromInt(2_000_000))
		actions := eng.ProcessEvent(context.Background(), block(fullRamp))
		assert.Empty(t, actions)
	})
}

func TestOriginationThenRepayKeepsSingleEntry(t *testing.T) {
	ledger := mock.NewMockLedger()
	loanID := uint256.NewInt(7)
	ledger.SetLoan(coolerA, loanID, tenTokens, expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	eng.ProcessEvent(context.Background(), core.LoanOriginated{Origination: core.Origination{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: loanID,
	}})
	require.Equal(t, 1, eng.registry.Len())

	// Partial repay reduces collateral on chain before the event arrives.
	remaining := uint256.MustFromDecimal("4000000000000000000")
	ledger.SetLoan(coolerA, loanID, remaining, expiry)
	eng.ProcessEvent(context.Background(), core.LoanRepaid{Cooler: coolerA, LoanID: loanID})

	require.Equal(t, 1, eng.registry.Len())
	p := eng.registry.Find(coolerA, loanID)
	require.Len(t, p, 1)
	assert.True(t, p[0].Collateral.Eq(remaining))
}

func TestDuplicateOriginationIgnored(t *testing.T) {
	ledger := mock.NewMockLedger()
	loanID := uint256.NewInt(7)
	ledger.SetLoan(coolerA, loanID, tenTokens, expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	ev := core.LoanOriginated{Origination: core.Origination{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: loanID,
	}}
	eng.ProcessEvent(context.Background(), ev)
	eng.ProcessEvent(context.Background(), ev)
	assert.Equal(t, 1, eng.registry.Len())
}

func TestUnknownLifecycleEventIsNoOp(t *testing.T) {
	eng := newTestEngine(t, mock.NewMockLedger(), defaultPrices(), Config{})
	actions := eng.ProcessEvent(context.Background(), core.LoanRepaid{
		Cooler: coolerA, LoanID: uint256.NewInt(99),
	})
	assert.Empty(t, actions)
	assert.Equal(t, 0, eng.registry.Len())
}

func TestPriceOutageSkipsBlock(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.SetLoan(coolerA, uint256.NewInt(7), tenTokens, expiry)
	prices := defaultPrices()

	eng := newTestEngine(t, ledger, prices, Config{})
	eng.registry.Insert(&registry.Position{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: uint256.NewInt(7),
		Collateral: tenTokens.Clone(), Expiry: expiry.Clone(),
	})

	prices.Err = errors.New("api down")
	actions := eng.ProcessEvent(context.Background(), block(fullRamp))
	assert.Empty(t, actions)
	assert.Equal(t, 1, eng.registry.Len())

	// Next block recovers without any intervention.
	prices.Err = nil
	actions = eng.ProcessEvent(context.Background(), block(fullRamp))
	require.Len(t, actions, 1)
}

func TestRewardPeriodTargetGatesClaims(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.SetLoan(coolerA, uint256.NewInt(7), tenTokens, expiry)
	// Cheap gas so the half-ramp reward of 1e17 clears the gate on cost.
	ledger.SetGas(50_000, big.NewInt(1_000_000_000))

	eng := newTestEngine(t, ledger, defaultPrices(), Config{RewardPeriodTargetPct: 50})
	eng.registry.Insert(&registry.Position{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: uint256.NewInt(7),
		Collateral: tenTokens.Clone(), Expiry: expiry.Clone(),
	})

	// Claimable but 25% into the ramp: held back.
	quarter := expiry.Uint64() + reward.RampSeconds/4
	assert.Empty(t, eng.ProcessEvent(context.Background(), block(quarter)))

	// At 50% the accrued reward covers gas and the target is met.
	half := expiry.Uint64() + reward.RampSeconds/2
	actions := eng.ProcessEvent(context.Background(), block(half))
	require.Len(t, actions, 1)
}

func TestRefreshDropsRepaidLoanFromClaimSet(t *testing.T) {
	ledger := mock.NewMockLedger()
	loanID := uint256.NewInt(7)
	// Registry is stale: the loan was fully repaid on chain.
	ledger.SetLoan(coolerA, loanID, uint256.NewInt(0), expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	eng.registry.Insert(&registry.Position{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: loanID,
		Collateral: tenTokens.Clone(), Expiry: expiry.Clone(),
	})

	actions := eng.ProcessEvent(context.Background(), block(fullRamp))
	assert.Empty(t, actions)
	assert.Empty(t, ledger.BuiltClaimSets)
	assert.True(t, eng.registry.All()[0].Collateral.IsZero())
}

func TestActiveLoanIsNeverClaimed(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.SetLoan(coolerA, uint256.NewInt(7), tenTokens, expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	eng.registry.Insert(&registry.Position{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: uint256.NewInt(7),
		Collateral: tenTokens.Clone(), Expiry: expiry.Clone(),
	})

	// Block timestamp at expiry: not yet defaulted.
	actions := eng.ProcessEvent(context.Background(), block(expiry.Uint64()))
	assert.Empty(t, actions)
	assert.Empty(t, ledger.BuiltClaimSets)
}

func TestStatusReadsDuringEventStream(t *testing.T) {
	ledger := mock.NewMockLedger()
	eng := newTestEngine(t, ledger, defaultPrices(), Config{})

	// Status reporting reads Positions from its own goroutine while the
	// event loop mutates the registry, exactly as in production wiring.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			for _, p := range eng.Positions() {
				_ = p.Collateral.String()
				_ = p.Expiry.String()
			}
		}
	}()

	ctx := context.Background()
	for i := 0; i < 200; i++ {
		loanID := uint256.NewInt(uint64(i))
		ledger.SetLoan(coolerA, loanID, tenTokens, expiry)
		eng.ProcessEvent(ctx, core.LoanOriginated{Origination: core.Origination{
			Cooler: coolerA, RequestID: uint256.NewInt(uint64(i)), LoanID: loanID,
		}})
		ledger.SetLoan(coolerA, loanID, uint256.NewInt(0), expiry)
		eng.ProcessEvent(ctx, core.LoanRepaid{Cooler: coolerA, LoanID: loanID})
	}
	<-done

	require.Equal(t, 200, eng.registry.Len())
	positions := eng.Positions()
	require.Len(t, positions, 200)
	for _, p := range positions {
		assert.True(t, p.Collateral.IsZero())
	}
}

func TestPositionsSnapshotIsDetached(t *testing.T) {
	ledger := mock.NewMockLedger()
	loanID := uint256.NewInt(7)
	ledger.SetLoan(coolerA, loanID, tenTokens, expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	eng.ProcessEvent(context.Background(), core.LoanOriginated{Origination: core.Origination{
		Cooler: coolerA, RequestID: uint256.NewInt(1), LoanID: loanID,
	}})

	snap := eng.Positions()
	require.Len(t, snap, 1)
	snap[0].Collateral.SetUint64(1)

	tracked := eng.registry.Find(coolerA, loanID)
	require.Len(t, tracked, 1)
	assert.True(t, tracked[0].Collateral.Eq(tenTokens), "snapshot must not alias registry state")
}

func TestRunDispatchesActions(t *testing.T) {
	ledger := mock.NewMockLedger()
	ledger.AddOrigination(coolerA, uint256.NewInt(1), uint256.NewInt(7))
	ledger.SetLoan(coolerA, uint256.NewInt(7), tenTokens, expiry)

	eng := newTestEngine(t, ledger, defaultPrices(), Config{})
	require.NoError(t, eng.Sync(context.Background()))

	events := make(chan core.Event, 1)
	actions := make(chan core.Action, 1)
	events <- block(fullRamp)
	close(events)

	require.NoError(t, eng.Run(context.Background(), events, actions))
	select {
	case a := <-actions:
		_, ok := a.(core.SubmitTx)
		assert.True(t, ok)
	default:
		t.Fatal("expected a submit action")
	}
}
