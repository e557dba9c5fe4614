package market

import (
	"sort"
	"time"
)

// Level is a single price/size rung of a depth ladder.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Ladder is one side of an order book, best price first.
type Ladder []Level

// Sorted returns a copy ordered best-first for the given direction:
// asks ascending (cheapest first), bids descending.
func (l Ladder) Sorted(asks bool) Ladder {
	out := make(Ladder, len(l))
	copy(out, l)
	sort.Slice(out, func(i, j int) bool {
		if asks {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}

// Depth is the total size across all levels.
func (l Ladder) Depth() float64 {
	var total float64
	for _, lvl := range l {
		total += lvl.Size
	}
	return total
}

// Best returns the top-of-book price, or 0 on an empty ladder.
func (l Ladder) Best() float64 {
	if len(l) == 0 {
		return 0
	}
	return l[0].Price
}

// Orderbook holds both sides for one outcome.
type Orderbook struct {
	Bids Ladder `json:"bids"`
	Asks Ladder `json:"asks"`
}

// Book is the full market state for one binary contract: YES and NO books
// plus the capture time. Books are ephemeral — owned by the cycle that
// fetched them, never persisted beyond the opportunity snapshot.
type Book struct {
	Ref        ContractRef `json:"ref"`
	Yes        Orderbook   `json:"yes"`
	No         Orderbook   `json:"no"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Quote is a single observed price level, retained in opportunity snapshots.
type Quote struct {
	Venue      Venue     `json:"venue"`
	ContractID string    `json:"contract_id"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}
