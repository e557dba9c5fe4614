package fees

import (
	"errors"
	"fmt"

	"github.com/crossarb/crossarb/internal/market"
)

// ErrInsufficientLiquidity means the ladder cannot fill the requested size.
// Expected optimizer outcome, not a failure.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

const epsilon = 1e-9

// Breakdown is the result of costing one leg at one size.
type Breakdown struct {
	Size           float64
	EffectivePrice float64 // size-weighted average across consumed levels
	Notional       float64 // EffectivePrice * Size
	Fee            float64
	Slippage       float64 // (EffectivePrice - best price) * Size
}

// Total is notional plus fee.
func (b Breakdown) Total() float64 {
	return b.Notional + b.Fee
}

// Cost walks the ask ladder from the best price outward until size is filled
// and applies the venue fee schedule at the size-weighted price. Deterministic
// and side-effect-free.
func Cost(sched Schedule, asks market.Ladder, size float64) (Breakdown, error) {
	if size <= epsilon {
		return Breakdown{}, fmt.Errorf("fees: non-positive size %.4f", size)
	}
	sorted := asks.Sorted(true)

	remaining := size
	var notional float64
	for _, lvl := range sorted {
		if lvl.Size <= epsilon || lvl.Price <= epsilon {
			continue
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		notional += take * lvl.Price
		remaining -= take
		if remaining <= epsilon {
			break
		}
	}
	if remaining > epsilon {
		return Breakdown{}, fmt.Errorf("%w: %.2f of %.2f unfilled on %s",
			ErrInsufficientLiquidity, remaining, size, sched.Name())
	}

	effective := notional / size
	return Breakdown{
		Size:           size,
		EffectivePrice: effective,
		Notional:       notional,
		Fee:            sched.Fee(effective, size),
		Slippage:       (effective - sorted.Best()) * size,
	}, nil
}
