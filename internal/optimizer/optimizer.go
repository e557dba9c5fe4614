package optimizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/crossarb/crossarb/internal/fees"
	"github.com/crossarb/crossarb/internal/market"
)

// Expected outcomes of a search, logged at low severity by callers.
var (
	ErrNoLiquidity  = errors.New("no fillable size")
	ErrUnprofitable = errors.New("unprofitable")
)

// Leg is one side of the covered position: buying one outcome's contracts
// from a venue's ask ladder under that venue's fee schedule.
type Leg struct {
	Venue   market.Venue
	Outcome string
	Asks    market.Ladder
	Sched   fees.Schedule
}

// Config bounds the search. Settlement pays 1.0 per contract, so payout at
// size s is s.
type Config struct {
	MinSize      float64
	MaxSize      float64
	GridSamples  int // coarse grid resolution across the size range
	RefineIters  int // narrowing iterations around the best grid sample
	MinProfitUSD float64
	MinProfitPct float64
}

func (c Config) withDefaults() Config {
	if c.MinSize <= 0 {
		c.MinSize = 1
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.GridSamples <= 1 {
		c.GridSamples = 50
	}
	if c.RefineIters <= 0 {
		c.RefineIters = 24
	}
	return c
}

// Sizing is the best size found and its full cost picture.
type Sizing struct {
	Size      float64
	YesLeg    fees.Breakdown
	NoLeg     fees.Breakdown
	Payout    float64
	NetProfit float64
	ProfitPct float64
}

// TotalCost across both legs, fees included.
func (s Sizing) TotalCost() float64 {
	return s.YesLeg.Total() + s.NoLeg.Total()
}

// Slippage combined across both legs.
func (s Sizing) Slippage() float64 {
	return s.YesLeg.Slippage + s.NoLeg.Slippage
}

// Optimize searches [MinSize, MaxSize] for the size maximizing
// payout - cost(yes) - cost(no). Fee bands and piecewise slippage make the
// profit curve non-unimodal, so a coarse grid locates the best region first
// and a local narrowing pass refines it. The returned size never exceeds what
// both ladders can verifiably fill.
func Optimize(yes, no Leg, cfg Config) (Sizing, error) {
	cfg = cfg.withDefaults()

	maxFill := math.Min(cfg.MaxSize, math.Min(yes.Asks.Depth(), no.Asks.Depth()))
	if maxFill < cfg.MinSize {
		return Sizing{}, fmt.Errorf("%w: fillable cap %.2f below min size %.2f",
			ErrNoLiquidity, maxFill, cfg.MinSize)
	}

	best, ok := Sizing{}, false
	consider := func(s Sizing, err error) {
		if err != nil {
			return
		}
		if !ok || s.NetProfit > best.NetProfit {
			best, ok = s, true
		}
	}

	// Coarse grid across the whole range.
	step := (maxFill - cfg.MinSize) / float64(cfg.GridSamples-1)
	if step <= 0 {
		step = 1
	}
	for i := 0; i < cfg.GridSamples; i++ {
		size := math.Min(cfg.MinSize+float64(i)*step, maxFill)
		consider(evaluate(yes, no, size))
	}
	if !ok {
		return Sizing{}, fmt.Errorf("%w: no grid sample fillable", ErrNoLiquidity)
	}

	// Narrow around the best sample, one grid cell to each side. Interior
	// points shrink the interval toward the local maximum; the global best
	// across every evaluation wins regardless.
	lo := math.Max(cfg.MinSize, best.Size-step)
	hi := math.Min(maxFill, best.Size+step)
	for i := 0; i < cfg.RefineIters && hi-lo > 1e-6; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		s1, err1 := evaluate(yes, no, m1)
		s2, err2 := evaluate(yes, no, m2)
		consider(s1, err1)
		consider(s2, err2)
		if err1 != nil || (err2 == nil && s2.NetProfit >= s1.NetProfit) {
			lo = m1
		} else {
			hi = m2
		}
	}

	if best.NetProfit <= 0 ||
		best.NetProfit < cfg.MinProfitUSD ||
		best.ProfitPct < cfg.MinProfitPct {
		return Sizing{}, fmt.Errorf("%w: best %.4f USD (%.2f%%) at size %.2f",
			ErrUnprofitable, best.NetProfit, best.ProfitPct, best.Size)
	}
	return best, nil
}

func evaluate(yes, no Leg, size float64) (Sizing, error) {
	yb, err := fees.Cost(yes.Sched, yes.Asks, size)
	if err != nil {
		return Sizing{}, err
	}
	nb, err := fees.Cost(no.Sched, no.Asks, size)
	if err != nil {
		return Sizing{}, err
	}

	s := Sizing{
		Size:   size,
		YesLeg: yb,
		NoLeg:  nb,
		Payout: size, // settlement value 1.0 per contract
	}
	s.NetProfit = s.Payout - s.TotalCost()
	if cost := s.TotalCost(); cost > 0 {
		s.ProfitPct = s.NetProfit / cost * 100
	}
	return s, nil
}
