package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsProcessedTotal = "liquidator_events_processed_total"
	MetricDecisionsTotal       = "liquidator_decisions_total"
	MetricClaimsSubmittedTotal = "liquidator_claims_submitted_total"
	MetricDecisionErrorsTotal  = "liquidator_decision_errors_total"
	MetricDecisionLatency      = "liquidator_decision_latency_ms"
	MetricLoansTracked         = "liquidator_loans_tracked"
	MetricLoansClaimable       = "liquidator_loans_claimable"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EventsProcessedTotal metric.Int64Counter
	DecisionsTotal       metric.Int64Counter
	ClaimsSubmittedTotal metric.Int64Counter
	DecisionErrorsTotal  metric.Int64Counter
	DecisionLatency      metric.Float64Histogram
	LoansTracked         metric.Int64ObservableGauge
	LoansClaimable       metric.Int64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	loansTracked   int64
	loansClaimable int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsProcessedTotal, err = meter.Int64Counter(MetricEventsProcessedTotal,
		metric.WithDescription("Total events processed by the engine"))
	if err != nil {
		return err
	}

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal,
		metric.WithDescription("Total profitability decisions run"))
	if err != nil {
		return err
	}

	m.ClaimsSubmittedTotal, err = meter.Int64Counter(MetricClaimsSubmittedTotal,
		metric.WithDescription("Total claim transactions emitted"))
	if err != nil {
		return err
	}

	m.DecisionErrorsTotal, err = meter.Int64Counter(MetricDecisionErrorsTotal,
		metric.WithDescription("Decision-path failures that skipped a block"))
	if err != nil {
		return err
	}

	m.DecisionLatency, err = meter.Float64Histogram(MetricDecisionLatency,
		metric.WithDescription("Latency of the per-block profitability decision"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LoansTracked, err = meter.Int64ObservableGauge(MetricLoansTracked,
		metric.WithDescription("Number of loan positions in the registry"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.loansTracked)
			return nil
		}))
	if err != nil {
		return err
	}

	m.LoansClaimable, err = meter.Int64ObservableGauge(MetricLoansClaimable,
		metric.WithDescription("Number of claimable positions seen in the last decision"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.loansClaimable)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetLoansTracked updates the registry size gauge state.
func (m *MetricsHolder) SetLoansTracked(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loansTracked = n
}

// SetLoansClaimable updates the claimable-count gauge state.
func (m *MetricsHolder) SetLoansClaimable(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loansClaimable = n
}
