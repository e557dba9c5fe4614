package arb

import (
	"time"

	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/optimizer"
)

// Direction says which leg of the canonical pair takes the YES side.
type Direction string

const (
	DirectionYesANoB Direction = "BUY_YES_A_BUY_NO_B"
	DirectionYesBNoA Direction = "BUY_YES_B_BUY_NO_A"
)

// Status lifecycle. Created DETECTED by the detector; every later transition
// belongs to the decision engine.
type Status string

const (
	StatusDetected   Status = "DETECTED"
	StatusAlerted    Status = "ALERTED"
	StatusExecuting  Status = "EXECUTING"
	StatusExecuted   Status = "EXECUTED"
	StatusExpired    Status = "EXPIRED"
	StatusSuppressed Status = "SUPPRESSED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusExpired || s == StatusSuppressed
}

// LegExec is the planned execution of one leg at the optimized size.
type LegExec struct {
	Venue          market.Venue `json:"venue"`
	ContractID     string       `json:"contract_id"`
	Outcome        string       `json:"outcome"`
	Size           float64      `json:"size"`
	EffectivePrice float64      `json:"effective_price"`
	Notional       float64      `json:"notional"`
	Fee            float64      `json:"fee"`
	Slippage       float64      `json:"slippage"`
}

// Opportunity is one detected risk-free trade. IDs are assigned by the
// opportunity log on first append and increase monotonically.
type Opportunity struct {
	ID           int64           `json:"id"`
	Key          market.MatchKey `json:"key"`
	Direction    Direction       `json:"direction"`
	Size         float64         `json:"size"`
	YesLeg       LegExec         `json:"yes_leg"`
	NoLeg        LegExec         `json:"no_leg"`
	Payout       float64         `json:"payout"`
	NetProfit    float64         `json:"net_profit"`
	ProfitPct    float64         `json:"profit_pct"`
	TimeToExpiry time.Duration   `json:"time_to_expiry"`
	DetectedAt   time.Time       `json:"detected_at"`
	Status       Status          `json:"status"`
	StatusNote   string          `json:"status_note"`
}

// Slippage combined across both legs; the direction tie-breaker.
func (o *Opportunity) Slippage() float64 {
	return o.YesLeg.Slippage + o.NoLeg.Slippage
}

// ExpiresAt is the wall-clock deadline derived from the tighter leg.
func (o *Opportunity) ExpiresAt() time.Time {
	if o.TimeToExpiry <= 0 {
		return time.Time{}
	}
	return o.DetectedAt.Add(o.TimeToExpiry)
}

// ExpiredBy reports whether the deadline has passed at now. Zero deadlines
// (legs without a reported expiry) never expire.
func (o *Opportunity) ExpiredBy(now time.Time) bool {
	at := o.ExpiresAt()
	return !at.IsZero() && !now.Before(at)
}

func newOpportunity(key market.MatchKey, dir Direction, yesRef, noRef market.ContractRef, s optimizer.Sizing, now time.Time) *Opportunity {
	op := &Opportunity{
		Key:       key,
		Direction: dir,
		Size:      s.Size,
		YesLeg: LegExec{
			Venue:          yesRef.Venue,
			ContractID:     yesRef.ContractID,
			Outcome:        "yes",
			Size:           s.Size,
			EffectivePrice: s.YesLeg.EffectivePrice,
			Notional:       s.YesLeg.Notional,
			Fee:            s.YesLeg.Fee,
			Slippage:       s.YesLeg.Slippage,
		},
		NoLeg: LegExec{
			Venue:          noRef.Venue,
			ContractID:     noRef.ContractID,
			Outcome:        "no",
			Size:           s.Size,
			EffectivePrice: s.NoLeg.EffectivePrice,
			Notional:       s.NoLeg.Notional,
			Fee:            s.NoLeg.Fee,
			Slippage:       s.NoLeg.Slippage,
		},
		Payout:     s.Payout,
		NetProfit:  s.NetProfit,
		ProfitPct:  s.ProfitPct,
		DetectedAt: now,
		Status:     StatusDetected,
	}
	if exp := key.TighterExpiry(); !exp.IsZero() && exp.After(now) {
		op.TimeToExpiry = exp.Sub(now)
	}
	return op
}
