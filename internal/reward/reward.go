// Package reward computes claimability and the dollar-denominated reward for
// processing a defaulted loan. All functions are pure over (position, now,
// price) and use 256-bit integer arithmetic end to end; multiplications
// happen before divisions so no precision is lost, and overflow is reported
// rather than wrapped.
package reward

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquidator/internal/registry"
	apperrors "liquidator/pkg/errors"
)

// RampSeconds is the length of the reward ramp: the reward grows linearly
// from zero at expiry to its full value seven days later.
const RampSeconds = 7 * 24 * 60 * 60

var (
	// rewardCeiling is the protocol's fixed reward cap, 0.1 of the reward
	// asset in 18-decimal units.
	rewardCeiling = uint256.NewInt(100_000_000_000_000_000)

	// collateralShare caps the reward at 5% of collateral (18-decimal
	// fraction).
	collateralShare = uint256.NewInt(50_000_000_000_000_000)

	wad = uint256.NewInt(1_000_000_000_000_000_000)
)

// Claimable reports whether the loan is past expiry with collateral left to
// claim. A fully repaid or already claimed loan has zero collateral and is
// never claimable, regardless of expiry.
func Claimable(p *registry.Position, now uint64) bool {
	return p.Expiry.LtUint64(now) && !p.Collateral.IsZero()
}

// Elapsed returns the seconds since expiry, clamped to the ramp length.
// Zero if the loan has not expired.
func Elapsed(p *registry.Position, now uint64) uint64 {
	if !p.Expiry.LtUint64(now) {
		return 0
	}
	elapsed := now - p.Expiry.Uint64()
	if elapsed > RampSeconds {
		return RampSeconds
	}
	return elapsed
}

// FractionPct returns the ramp progress as a whole percentage in [0, 100],
// used for display and for the reward-period-target gate.
func FractionPct(p *registry.Position, now uint64) uint64 {
	return Elapsed(p, now) * 100 / RampSeconds
}

// PastTarget reports whether the ramp progress has reached targetPct
// percent. Compared in exact integer arithmetic: elapsed/RampSeconds >=
// targetPct/100 without intermediate rounding.
func PastTarget(p *registry.Position, now uint64, targetPct uint64) bool {
	return Elapsed(p, now)*100 >= RampSeconds*targetPct
}

// Value returns the reward for claiming the loan at the given time,
// denominated in 18-decimal quote units. price is the reward asset's spot
// price in 18-decimal quote units per whole token.
//
// The reward in reward-asset terms is the lesser of the fixed ceiling and 5%
// of collateral, scaled by the ramp fraction; the result is converted to
// quote currency at the given price.
func Value(p *registry.Position, now uint64, price *uint256.Int) (*uint256.Int, error) {
	if !Claimable(p, now) {
		return uint256.NewInt(0), nil
	}

	// min(ceiling, collateral * 5%).
	cap_, overflow := new(uint256.Int).MulOverflow(p.Collateral, collateralShare)
	if overflow {
		return nil, fmt.Errorf("%w: collateral share for %s", apperrors.ErrOverflow, p)
	}
	cap_.Div(cap_, wad)
	if rewardCeiling.Lt(cap_) {
		cap_.Set(rewardCeiling)
	}

	// Scale by the ramp fraction, multiply first.
	elapsed := Elapsed(p, now)
	accrued, overflow := new(uint256.Int).MulOverflow(cap_, uint256.NewInt(elapsed))
	if overflow {
		return nil, fmt.Errorf("%w: ramp scaling for %s", apperrors.ErrOverflow, p)
	}
	accrued.Div(accrued, uint256.NewInt(RampSeconds))

	// Convert to quote units.
	value, overflow := new(uint256.Int).MulOverflow(accrued, price)
	if overflow {
		return nil, fmt.Errorf("%w: quote conversion for %s", apperrors.ErrOverflow, p)
	}
	value.Div(value, wad)
	return value, nil
}
