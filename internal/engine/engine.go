// Package engine contains the liquidation strategy: it keeps the loan
// registry in sync with the event stream and decides, on every new block,
// whether claiming the currently defaulted loans is worth the gas.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"liquidator/internal/alert"
	"liquidator/internal/core"
	"liquidator/internal/price"
	"liquidator/internal/registry"
	"liquidator/internal/reward"
	"liquidator/pkg/concurrency"
	apperrors "liquidator/pkg/errors"
	"liquidator/pkg/retry"
	"liquidator/pkg/telemetry"
)

var quoteWad = uint256.NewInt(1_000_000_000_000_000_000)

// Config is the explicit decision configuration. It is fixed at
// construction; the decision path never reads the process environment.
type Config struct {
	// MinProfit is the minimum net profit, in 18-decimal quote units,
	// required before a claim is submitted.
	MinProfit *uint256.Int

	// RewardPeriodTargetPct is the share of the 7-day reward ramp, in
	// whole percent, a position must have crossed before it is proposed
	// for claiming.
	RewardPeriodTargetPct uint64

	// RewardAsset and NativeAsset are the price-source identifiers for
	// the reward token and the chain's gas token.
	RewardAsset string
	NativeAsset string
}

// LiquidationEngine moves through three states per run: constructed, synced
// via Sync, then live, processing one event at a time. All registry access
// happens on the caller's event loop.
type LiquidationEngine struct {
	registry *registry.Registry
	ledger   core.ILedgerClient
	prices   core.IPriceSource
	alerts   *alert.AlertManager
	logger   core.ILogger
	pool     *concurrency.WorkerPool
	cfg      Config

	retryPolicy retry.RetryPolicy
	synced      bool

	// published is the deep-copied registry snapshot handed to readers
	// outside the event loop; the registry itself is only ever touched by
	// Sync and ProcessEvent.
	published atomic.Pointer[[]*registry.Position]

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewEngine wires a liquidation engine. alerts may be nil; pool may be nil
// to run the backfill sequentially.
func NewEngine(
	reg *registry.Registry,
	ledger core.ILedgerClient,
	prices core.IPriceSource,
	pool *concurrency.WorkerPool,
	alerts *alert.AlertManager,
	logger core.ILogger,
	cfg Config,
) *LiquidationEngine {
	if cfg.MinProfit == nil {
		cfg.MinProfit = uint256.NewInt(0)
	}
	if cfg.RewardPeriodTargetPct > 100 {
		cfg.RewardPeriodTargetPct = 100
	}
	return &LiquidationEngine{
		registry:    reg,
		ledger:      ledger,
		prices:      prices,
		alerts:      alerts,
		logger:      logger.WithField("component", "liquidation_engine"),
		pool:        pool,
		cfg:         cfg,
		retryPolicy: retry.DefaultPolicy,
		tracer:      telemetry.GetTracer("liquidation-engine"),
		metrics:     telemetry.GetGlobalMetrics(),
	}
}

// Sync performs the full backfill: every loan ever cleared is fetched from
// the factory's history and its current state read from its cooler. Any
// failure, after retries, aborts the sync; the engine must not go live on a
// partial registry.
func (e *LiquidationEngine) Sync(ctx context.Context) error {
	e.logger.Info("Fetching cooler loans")

	originations, err := e.ledger.OriginationHistory(ctx, 0)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	positions := make([]*registry.Position, len(originations))
	fetch := func(gctx context.Context, i int, o core.Origination) error {
		loan, err := e.getLoanWithRetry(gctx, o.Cooler, o.LoanID)
		if err != nil {
			return fmt.Errorf("sync loan %s/%s: %w", o.Cooler.Hex(), o.LoanID.String(), err)
		}
		positions[i] = &registry.Position{
			Cooler:     o.Cooler,
			RequestID:  o.RequestID,
			LoanID:     o.LoanID,
			Collateral: loan.Collateral,
			Expiry:     loan.Expiry,
		}
		return nil
	}

	if e.pool != nil {
		group, gctx := e.pool.Group(ctx)
		for i, o := range originations {
			i, o := i, o
			group.Submit(func() error { return fetch(gctx, i, o) })
		}
		if err := group.Wait(); err != nil {
			return err
		}
	} else {
		for i, o := range originations {
			if err := fetch(ctx, i, o); err != nil {
				return err
			}
		}
	}

	for _, p := range positions {
		e.registry.Insert(p)
	}
	e.metrics.SetLoansTracked(int64(e.registry.Len()))
	e.publishSnapshot()
	e.synced = true

	e.logger.Info("Done fetching loans", "count", e.registry.Len())
	return nil
}

// Run consumes the ordered event stream and forwards any resulting actions.
// It returns when the stream closes or the context is cancelled.
func (e *LiquidationEngine) Run(ctx context.Context, events <-chan core.Event, actions chan<- core.Action) error {
	if !e.synced {
		return apperrors.ErrNotSynced
	}
	e.logger.Info("Running event loop")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			for _, a := range e.ProcessEvent(ctx, ev) {
				select {
				case actions <- a:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// ProcessEvent dispatches one event. Only NewBlock can produce actions;
// every failure on the decision path is contained to this event.
func (e *LiquidationEngine) ProcessEvent(ctx context.Context, ev core.Event) []core.Action {
	defer e.publishSnapshot()

	if e.metrics.EventsProcessedTotal != nil {
		e.metrics.EventsProcessedTotal.Add(ctx, 1)
	}

	switch ev := ev.(type) {
	case core.NewBlock:
		actions, err := e.decide(ctx, ev)
		if err != nil {
			e.logger.Error("Decision failed, skipping block", "block", ev.Number, "error", err)
			if e.metrics.DecisionErrorsTotal != nil {
				e.metrics.DecisionErrorsTotal.Add(ctx, 1)
			}
			e.notify(ctx, "Decision skipped", err.Error(), alert.Error, map[string]string{
				"block": fmt.Sprintf("%d", ev.Number),
			})
			return nil
		}
		return actions

	case core.LoanOriginated:
		e.handleOrigination(ctx, ev)

	case core.LoanRepaid:
		e.refreshMatching(ctx, ev.Cooler, ev.LoanID, "Loan repaid")

	case core.LoanExtended:
		e.refreshMatching(ctx, ev.Cooler, ev.LoanID, "Loan extended")

	case core.LoanDefaulted:
		e.refreshMatching(ctx, ev.Cooler, ev.LoanID, "Loan defaulted")
	}
	return nil
}

func (e *LiquidationEngine) handleOrigination(ctx context.Context, ev core.LoanOriginated) {
	loan, err := e.getLoanWithRetry(ctx, ev.Cooler, ev.LoanID)
	if err != nil {
		e.logger.Error("Failed to fetch new loan, will retry on next lifecycle event",
			"cooler", ev.Cooler.Hex(), "loan", ev.LoanID.String(), "error", err)
		return
	}
	inserted := e.registry.Insert(&registry.Position{
		Cooler:     ev.Cooler,
		RequestID:  ev.RequestID,
		LoanID:     ev.LoanID,
		Collateral: loan.Collateral,
		Expiry:     loan.Expiry,
	})
	if inserted {
		e.logger.Info("New loan tracked", "cooler", ev.Cooler.Hex(), "loan", ev.LoanID.String())
		e.metrics.SetLoansTracked(int64(e.registry.Len()))
	} else {
		e.logger.Debug("Duplicate origination ignored", "cooler", ev.Cooler.Hex(), "loan", ev.LoanID.String())
	}
}

// refreshMatching re-reads ground truth for every position matching the
// event. The three mutating events behave identically on purpose: the
// registry never applies event deltas, it re-reads the ledger, so handlers
// stay idempotent under at-least-once delivery. An unknown pair is a no-op.
func (e *LiquidationEngine) refreshMatching(ctx context.Context, cooler common.Address, loanID *uint256.Int, msg string) {
	for _, p := range e.registry.Find(cooler, loanID) {
		if err := e.registry.Refresh(ctx, p); err != nil {
			e.logger.Warn("Refresh failed, keeping previous state",
				"cooler", cooler.Hex(), "loan", loanID.String(), "error", err)
			continue
		}
		e.logger.Info(msg, "cooler", cooler.Hex(), "loan", loanID.String(),
			"collateral", p.Collateral.String(), "expiry", p.Expiry.String())
	}
}

// decide runs the per-block profitability gate and returns at most one
// SubmitTx action.
func (e *LiquidationEngine) decide(ctx context.Context, blk core.NewBlock) ([]core.Action, error) {
	start := time.Now()
	decisionID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "decide",
		trace.WithAttributes(
			attribute.Int64("block", int64(blk.Number)),
			attribute.String("decision_id", decisionID),
		),
	)
	defer span.End()
	defer func() {
		if e.metrics.DecisionLatency != nil {
			e.metrics.DecisionLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
	}()
	if e.metrics.DecisionsTotal != nil {
		e.metrics.DecisionsTotal.Add(ctx, 1)
	}

	now := blk.Timestamp
	log := e.logger.WithField("decision_id", decisionID).WithField("block", blk.Number)

	rewardPrice, err := e.spotQuote(ctx, e.cfg.RewardAsset)
	if err != nil {
		return nil, err
	}

	var (
		coolers   []common.Address
		loanIDs   []*uint256.Int
		total     = uint256.NewInt(0)
		claimable int
	)
	for _, p := range e.registry.All() {
		if !reward.Claimable(p, now) {
			continue
		}
		value, err := reward.Value(p, now, rewardPrice)
		if err != nil {
			return nil, err
		}
		if value.IsZero() {
			continue
		}
		claimable++

		if !reward.PastTarget(p, now, e.cfg.RewardPeriodTargetPct) {
			log.Debug("Claimable but below reward period target",
				"cooler", p.Cooler.Hex(), "loan", p.LoanID.String(),
				"ramp_pct", reward.FractionPct(p, now))
			continue
		}

		// Refresh before committing to the claim set; the loan may have
		// been repaid since the last event.
		if err := e.registry.Refresh(ctx, p); err != nil {
			return nil, err
		}
		if !reward.Claimable(p, now) {
			continue
		}
		value, err = reward.Value(p, now, rewardPrice)
		if err != nil {
			return nil, err
		}
		if value.IsZero() {
			continue
		}

		coolers = append(coolers, p.Cooler)
		loanIDs = append(loanIDs, p.LoanID)
		sum, overflow := new(uint256.Int).AddOverflow(total, value)
		if overflow {
			return nil, fmt.Errorf("%w: total reward", apperrors.ErrOverflow)
		}
		total = sum
	}
	e.metrics.SetLoansClaimable(int64(claimable))

	if len(coolers) == 0 {
		return nil, nil
	}

	tx, err := e.ledger.BuildClaimTx(ctx, coolers, loanIDs)
	if err != nil {
		return nil, err
	}
	gasCost, err := e.gasCostQuote(ctx, tx)
	if err != nil {
		return nil, err
	}

	log.Info("Claimable loans found",
		"proposed", len(coolers), "claimable", claimable,
		"total_reward", total.String(), "gas_cost", gasCost.String(),
		"min_profit", e.cfg.MinProfit.String())

	if !gasCost.Lt(total) {
		return nil, nil
	}
	net := new(uint256.Int).Sub(total, gasCost)
	if !net.Gt(e.cfg.MinProfit) {
		return nil, nil
	}

	log.Info("Submitting claim", "loans", len(coolers), "net_profit", net.String())
	if e.metrics.ClaimsSubmittedTotal != nil {
		e.metrics.ClaimsSubmittedTotal.Add(ctx, 1)
	}
	e.notify(ctx, "Claiming defaulted loans",
		fmt.Sprintf("Submitting claim for %d loans", len(coolers)),
		alert.Info, map[string]string{
			"block":      fmt.Sprintf("%d", blk.Number),
			"net_profit": net.String(),
			"decision":   decisionID,
		})

	return []core.Action{core.SubmitTx{Tx: tx}}, nil
}

// spotQuote fetches a spot price and converts it to 18-decimal quote units.
func (e *LiquidationEngine) spotQuote(ctx context.Context, symbol string) (*uint256.Int, error) {
	d, err := e.prices.SpotPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return price.QuoteUnits(d)
}

// gasCostQuote prices the claim transaction in 18-decimal quote units:
// gas units * gas price (wei) * native spot price / 1e18.
func (e *LiquidationEngine) gasCostQuote(ctx context.Context, tx *gethtypes.Transaction) (*uint256.Int, error) {
	gas, err := e.ledger.EstimateGas(ctx, tx)
	if err != nil {
		return nil, err
	}
	gasPriceBig, err := e.ledger.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice, overflow := uint256.FromBig(gasPriceBig)
	if overflow {
		return nil, fmt.Errorf("%w: gas price", apperrors.ErrOverflow)
	}
	nativePrice, err := e.spotQuote(ctx, e.cfg.NativeAsset)
	if err != nil {
		return nil, err
	}

	feeWei, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gas), gasPrice)
	if overflow {
		return nil, fmt.Errorf("%w: gas fee", apperrors.ErrOverflow)
	}
	cost, overflow := new(uint256.Int).MulOverflow(feeWei, nativePrice)
	if overflow {
		return nil, fmt.Errorf("%w: gas cost", apperrors.ErrOverflow)
	}
	return cost.Div(cost, quoteWad), nil
}

func (e *LiquidationEngine) getLoanWithRetry(ctx context.Context, cooler common.Address, loanID *uint256.Int) (core.Loan, error) {
	var loan core.Loan
	err := retry.Do(ctx, e.retryPolicy, retry.Always, func() error {
		var err error
		loan, err = e.ledger.GetLoan(ctx, cooler, loanID)
		return err
	})
	return loan, err
}

func (e *LiquidationEngine) notify(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Alert(ctx, title, message, level, fields)
}

// publishSnapshot deep-copies the registry for readers outside the event
// loop.
func (e *LiquidationEngine) publishSnapshot() {
	all := e.registry.All()
	out := make([]*registry.Position, len(all))
	for i, p := range all {
		out[i] = p.Clone()
	}
	e.published.Store(&out)
}

// Positions returns the snapshot published after the last processed event.
// Safe to call from any goroutine; rendering is a projection over this
// copy, never part of the decision path.
func (e *LiquidationEngine) Positions() []*registry.Position {
	if s := e.published.Load(); s != nil {
		return *s
	}
	return nil
}
