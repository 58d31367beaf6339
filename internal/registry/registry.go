// Package registry holds the authoritative in-process set of tracked loan
// positions. Positions are created from origination events, refreshed by
// re-reading the ledger, and never deleted for the lifetime of the run.
package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquidator/internal/core"
	apperrors "liquidator/pkg/errors"
)

// Position is one tracked loan. The (Cooler, LoanID) pair identifies it
// uniquely within the registry. Collateral and Expiry are only ever
// overwritten by Refresh, never computed locally.
type Position struct {
	Cooler     common.Address
	RequestID  *uint256.Int
	LoanID     *uint256.Int
	Collateral *uint256.Int
	Expiry     *uint256.Int
}

// Clone returns a deep copy. The big values are cloned too, so the copy can
// be read while the original is refreshed on the event loop.
func (p *Position) Clone() *Position {
	return &Position{
		Cooler:     p.Cooler,
		RequestID:  p.RequestID.Clone(),
		LoanID:     p.LoanID.Clone(),
		Collateral: p.Collateral.Clone(),
		Expiry:     p.Expiry.Clone(),
	}
}

func (p *Position) String() string {
	return fmt.Sprintf("cooler=%s loan=%s collateral=%s expiry=%s",
		p.Cooler.Hex(), p.LoanID.String(), p.Collateral.String(), p.Expiry.String())
}

type positionKey struct {
	cooler common.Address
	loanID uint256.Int
}

// Registry is an insertion-ordered collection of positions with an identity
// index. All reads and writes happen on the engine's event loop; the index
// exists for dedup and O(1) lookup, not for concurrency.
type Registry struct {
	ledger    core.ILedgerClient
	positions []*Position
	index     map[positionKey]*Position
}

// New creates an empty registry backed by the given ledger client.
func New(ledger core.ILedgerClient) *Registry {
	return &Registry{
		ledger: ledger,
		index:  make(map[positionKey]*Position),
	}
}

// Insert appends a position unless one with the same (Cooler, LoanID) is
// already tracked. Returns true if the position was added. Idempotent insert
// makes origination handling safe under at-least-once event delivery and
// overlapping backfill windows.
func (r *Registry) Insert(p *Position) bool {
	k := positionKey{cooler: p.Cooler, loanID: *p.LoanID}
	if _, exists := r.index[k]; exists {
		return false
	}
	r.positions = append(r.positions, p)
	r.index[k] = p
	return true
}

// Find returns the positions matching both cooler and loan id. With the
// dedup guard on Insert this is at most one entry, but callers iterate the
// result so a lagging registry degrades to a no-op rather than an error.
func (r *Registry) Find(cooler common.Address, loanID *uint256.Int) []*Position {
	k := positionKey{cooler: cooler, loanID: *loanID}
	if p, ok := r.index[k]; ok {
		return []*Position{p}
	}
	return nil
}

// Refresh re-reads the position's collateral and expiry from the ledger and
// overwrites both. On failure the prior values stay intact and the error is
// propagated: acting on stale data risks an unprofitable or invalid claim.
func (r *Registry) Refresh(ctx context.Context, p *Position) error {
	loan, err := r.ledger.GetLoan(ctx, p.Cooler, p.LoanID)
	if err != nil {
		return fmt.Errorf("%w: refresh %s: %v", apperrors.ErrLedgerQuery, p, err)
	}
	p.Collateral = loan.Collateral
	p.Expiry = loan.Expiry
	return nil
}

// All returns a snapshot of the tracked positions in insertion order. The
// slice is a copy; the positions are shared.
func (r *Registry) All() []*Position {
	out := make([]*Position, len(r.positions))
	copy(out, r.positions)
	return out
}

// Len returns the number of tracked positions.
func (r *Registry) Len() int {
	return len(r.positions)
}
