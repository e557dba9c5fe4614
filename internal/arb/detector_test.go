package arb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/crossarb/crossarb/internal/fees"
	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/matchcache"
	"github.com/crossarb/crossarb/internal/optimizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	books map[string]*market.Book
	fail  map[string]error
}

func (p *fakeProvider) Book(_ context.Context, ref market.ContractRef) (*market.Book, error) {
	if err, ok := p.fail[ref.ContractID]; ok {
		return nil, err
	}
	book, ok := p.books[ref.ContractID]
	if !ok {
		return nil, fmt.Errorf("no book for %s", ref.ContractID)
	}
	return book, nil
}

func ladder(price, size float64) market.Ladder {
	return market.Ladder{{Price: price, Size: size}}
}

func bookAt(ref market.ContractRef, yesAsk, noAsk, depth float64) *market.Book {
	return &market.Book{
		Ref:        ref,
		Yes:        market.Orderbook{Asks: ladder(yesAsk, depth)},
		No:         market.Orderbook{Asks: ladder(noAsk, depth)},
		CapturedAt: time.Now().UTC(),
	}
}

func pairKey(t *testing.T, kxID, pmID string) market.MatchKey {
	t.Helper()
	k, err := market.NewMatchKey(
		market.ContractRef{Venue: market.VenueKalshi, ContractID: kxID, Expiry: time.Now().Add(72 * time.Hour)},
		market.ContractRef{Venue: market.VenuePolymarket, ContractID: pmID, Expiry: time.Now().Add(48 * time.Hour)},
	)
	require.NoError(t, err)
	return k
}

func newTestDetector(t *testing.T, provider BookProvider) *Detector {
	t.Helper()
	d, err := NewDetector(DetectorConfig{
		Providers: map[market.Venue]BookProvider{
			market.VenueKalshi:     provider,
			market.VenuePolymarket: provider,
		},
		Schedules: map[market.Venue]fees.Schedule{
			market.VenueKalshi:     fees.FlatSchedule{Label: "kalshi"},
			market.VenuePolymarket: fees.FlatSchedule{Label: "polymarket"},
		},
		Sizing: optimizer.Config{MinSize: 1, MaxSize: 100},
	})
	require.NoError(t, err)
	return d
}

func verified(key market.MatchKey) matchcache.MatchRecord {
	return matchcache.MatchRecord{Key: key, State: matchcache.StateVerified, Actor: "pm", Active: true}
}

func TestDetector_FindsProfitableDirection(t *testing.T) {
	key := pairKey(t, "KX-1", "0x1")
	provider := &fakeProvider{books: map[string]*market.Book{
		// YES on kalshi at 0.40, NO on polymarket at 0.50: 0.10/contract edge.
		"KX-1": bookAt(key.A, 0.40, 0.70, 100),
		"0x1":  bookAt(key.B, 0.70, 0.50, 100),
	}}

	ops := newTestDetector(t, provider).Scan(context.Background(), []matchcache.MatchRecord{verified(key)})
	require.Len(t, ops, 1)

	op := ops[0]
	assert.Equal(t, DirectionYesANoB, op.Direction)
	assert.Equal(t, market.VenueKalshi, op.YesLeg.Venue)
	assert.Equal(t, market.VenuePolymarket, op.NoLeg.Venue)
	assert.Greater(t, op.NetProfit, 0.0)
	assert.Equal(t, StatusDetected, op.Status)
	assert.Greater(t, op.TimeToExpiry, time.Duration(0))
	assert.LessOrEqual(t, op.TimeToExpiry, 48*time.Hour, "tighter leg bounds the deadline")
}

func TestDetector_PicksBetterDirection(t *testing.T) {
	key := pairKey(t, "KX-2", "0x2")
	provider := &fakeProvider{books: map[string]*market.Book{
		// Direction A: 0.40+0.55 = 0.95 (0.05 edge).
		// Direction B: 0.42+0.50 = 0.92 (0.08 edge) — better.
		"KX-2": bookAt(key.A, 0.40, 0.50, 100),
		"0x2":  bookAt(key.B, 0.42, 0.55, 100),
	}}

	ops := newTestDetector(t, provider).Scan(context.Background(), []matchcache.MatchRecord{verified(key)})
	require.Len(t, ops, 1)
	assert.Equal(t, DirectionYesBNoA, ops[0].Direction)
	assert.Equal(t, market.VenuePolymarket, ops[0].YesLeg.Venue)
}

func TestDetector_TieBreaksOnSlippage(t *testing.T) {
	key := pairKey(t, "KX-3", "0x3")
	// Same 0.10 edge both ways, but direction B needs two YES levels and so
	// carries slippage; direction A fills at one level.
	provider := &fakeProvider{books: map[string]*market.Book{
		"KX-3": {
			Ref: key.A,
			Yes: market.Orderbook{Asks: ladder(0.40, 100)},
			No:  market.Orderbook{Asks: ladder(0.50, 100)},
		},
		"0x3": {
			Ref: key.B,
			Yes: market.Orderbook{Asks: market.Ladder{{Price: 0.35, Size: 50}, {Price: 0.45, Size: 50}}},
			No:  market.Orderbook{Asks: ladder(0.50, 100)},
		},
	}}

	d := newTestDetector(t, provider)
	// Fixed size keeps both directions at an identical net profit.
	d.sizing = optimizer.Config{MinSize: 100, MaxSize: 100, GridSamples: 2}

	ops := d.Scan(context.Background(), []matchcache.MatchRecord{verified(key)})
	require.Len(t, ops, 1)
	assert.Equal(t, DirectionYesANoB, ops[0].Direction, "equal profit resolves to lower slippage")
	assert.InDelta(t, 0.0, ops[0].Slippage(), 1e-9)
}

func TestDetector_SingleVenueFailureSkipsOnlyThatPair(t *testing.T) {
	good := pairKey(t, "KX-4", "0x4")
	bad := pairKey(t, "KX-5", "0x5")

	provider := &fakeProvider{
		books: map[string]*market.Book{
			"KX-4": bookAt(good.A, 0.40, 0.70, 100),
			"0x4":  bookAt(good.B, 0.70, 0.50, 100),
			"0x5":  bookAt(bad.B, 0.70, 0.50, 100),
		},
		fail: map[string]error{"KX-5": fmt.Errorf("venue timeout")},
	}

	ops := newTestDetector(t, provider).Scan(context.Background(),
		[]matchcache.MatchRecord{verified(bad), verified(good)})
	require.Len(t, ops, 1, "failed fetch must not abort the cycle")
	assert.Equal(t, good.Hash(), ops[0].Key.Hash())
}

func TestDetector_NoOpportunityOnFairPricing(t *testing.T) {
	key := pairKey(t, "KX-6", "0x6")
	provider := &fakeProvider{books: map[string]*market.Book{
		"KX-6": bookAt(key.A, 0.52, 0.50, 100),
		"0x6":  bookAt(key.B, 0.52, 0.50, 100),
	}}

	ops := newTestDetector(t, provider).Scan(context.Background(), []matchcache.MatchRecord{verified(key)})
	assert.Empty(t, ops)
}
