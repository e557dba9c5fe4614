package fees

import (
	"fmt"
	"math"
	"sort"
)

// Schedule computes the venue fee for filling size contracts at a price.
// Implementations must be pure: the optimizer calls them many times per pass.
type Schedule interface {
	Name() string
	Fee(price, size float64) float64
}

// QuadraticSchedule charges rate*size*price*(1-price), rounded up to the
// cent. This is the Kalshi taker formula.
type QuadraticSchedule struct {
	Label string
	Rate  float64
}

func (s QuadraticSchedule) Name() string { return s.Label }

func (s QuadraticSchedule) Fee(price, size float64) float64 {
	raw := s.Rate * size * price * (1 - price)
	return math.Ceil(raw*100) / 100
}

// FlatSchedule charges a fixed amount per trade plus a percentage of notional.
type FlatSchedule struct {
	Label    string
	FixedUSD float64
	Rate     float64
}

func (s FlatSchedule) Name() string { return s.Label }

func (s FlatSchedule) Fee(price, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return s.FixedUSD + s.Rate*price*size
}

// Band maps a price ceiling to a per-contract fee.
type Band struct {
	UpTo   float64
	PerFee float64
}

// BandedSchedule charges a per-contract fee looked up by the price band the
// fill lands in. Bands with discontinuities at thresholds are why the
// optimizer cannot assume the profit curve is unimodal.
type BandedSchedule struct {
	Label string
	Bands []Band
}

// NewBandedSchedule sorts bands by ceiling and validates them.
func NewBandedSchedule(label string, bands []Band) (BandedSchedule, error) {
	if len(bands) == 0 {
		return BandedSchedule{}, fmt.Errorf("fees: banded schedule %q needs at least one band", label)
	}
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UpTo < sorted[j].UpTo })
	for _, b := range sorted {
		if b.UpTo <= 0 || b.UpTo > 1 {
			return BandedSchedule{}, fmt.Errorf("fees: band ceiling %.4f out of (0,1]", b.UpTo)
		}
	}
	return BandedSchedule{Label: label, Bands: sorted}, nil
}

func (s BandedSchedule) Name() string { return s.Label }

func (s BandedSchedule) Fee(price, size float64) float64 {
	if size <= 0 {
		return 0
	}
	per := s.Bands[len(s.Bands)-1].PerFee
	for _, b := range s.Bands {
		if price <= b.UpTo {
			per = b.PerFee
			break
		}
	}
	return per * size
}
