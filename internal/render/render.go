// Package render produces the periodic status table. It is a read-only
// projection over a registry snapshot; nothing here feeds back into the
// decision path.
package render

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"liquidator/internal/core"
	"liquidator/internal/registry"
	"liquidator/internal/reward"
)

// PositionSource yields the current registry snapshot. The engine
// satisfies it.
type PositionSource interface {
	Positions() []*registry.Position
}

// Clock returns the timestamp to evaluate claimability against. Production
// uses the last seen block time; tests inject fixed values.
type Clock func() uint64

// Table renders the snapshot as an aligned text table.
func Table(positions []*registry.Position, now uint64) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COOLER\tLOAN\tCOLLATERAL\tEXPIRY\tSTATUS\tRAMP")
	for _, p := range positions {
		status := "active"
		ramp := "-"
		if reward.Claimable(p, now) {
			status = "claimable"
			ramp = fmt.Sprintf("%d%%", reward.FractionPct(p, now))
		} else if p.Collateral.IsZero() {
			status = "closed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Cooler.Hex(), p.LoanID.String(), p.Collateral.String(), p.Expiry.String(), status, ramp)
	}
	w.Flush()
	return b.String()
}

// Reporter logs the status table on a fixed interval.
type Reporter struct {
	source   PositionSource
	clock    Clock
	logger   core.ILogger
	interval time.Duration
}

func NewReporter(source PositionSource, clock Clock, interval time.Duration, logger core.ILogger) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{
		source:   source,
		clock:    clock,
		logger:   logger.WithField("component", "status"),
		interval: interval,
	}
}

// Run emits the table until the context is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			positions := r.source.Positions()
			r.logger.Info("Tracked loans", "count", len(positions),
				"table", "\n"+Table(positions, r.clock()))
		}
	}
}
