package arb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossarb/crossarb/internal/fees"
	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/matchcache"
	"github.com/crossarb/crossarb/internal/optimizer"
)

// BookProvider fetches the current depth for one contract. Failures are
// recoverable: the pair is skipped, the cycle continues.
type BookProvider interface {
	Book(ctx context.Context, ref market.ContractRef) (*market.Book, error)
}

// Detector scans every active verified pair for a profitable direction.
type Detector struct {
	providers map[market.Venue]BookProvider
	schedules map[market.Venue]fees.Schedule
	sizing    optimizer.Config
	workers   int
	now       func() time.Time
}

type DetectorConfig struct {
	Providers map[market.Venue]BookProvider
	Schedules map[market.Venue]fees.Schedule
	Sizing    optimizer.Config
	Workers   int
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("detector: at least one book provider required")
	}
	if len(cfg.Schedules) == 0 {
		return nil, fmt.Errorf("detector: fee schedules required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Detector{
		providers: cfg.Providers,
		schedules: cfg.Schedules,
		sizing:    cfg.Sizing,
		workers:   workers,
		now:       time.Now,
	}, nil
}

// Scan fetches books for each pair in parallel (read-only against the match
// cache, so fetches are safe to overlap) and evaluates both directions.
// Returns the opportunities found; per-pair failures are logged and skipped.
func (d *Detector) Scan(ctx context.Context, records []matchcache.MatchRecord) []*Opportunity {
	var (
		mu    sync.Mutex
		found []*Opportunity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			op, err := d.scanPair(gctx, rec.Key)
			if err != nil {
				if isExpectedOutcome(err) {
					logging.Debugf("[detector] pair=%s: %v", rec.Key, err)
				} else {
					logging.Warnf("[detector] pair=%s skipped: %v", rec.Key, err)
				}
				return nil // recoverable: never abort the cycle
			}
			if op != nil {
				mu.Lock()
				found = append(found, op)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return found
}

func (d *Detector) scanPair(ctx context.Context, key market.MatchKey) (*Opportunity, error) {
	bookA, err := d.fetch(ctx, key.A)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key.A, err)
	}
	bookB, err := d.fetch(ctx, key.B)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key.B, err)
	}
	return d.evaluate(key, bookA, bookB)
}

func (d *Detector) fetch(ctx context.Context, ref market.ContractRef) (*market.Book, error) {
	provider, ok := d.providers[ref.Venue]
	if !ok {
		return nil, fmt.Errorf("no book provider for venue %q", ref.Venue)
	}
	return provider.Book(ctx, ref)
}

// evaluate runs the optimizer for both directions. Mispricing can sit either
// way, so both are always tried. Better direction wins on strictly higher
// net profit; exact ties go to the lower combined slippage.
func (d *Detector) evaluate(key market.MatchKey, bookA, bookB *market.Book) (*Opportunity, error) {
	now := d.now().UTC()

	schedA, okA := d.schedules[key.A.Venue]
	schedB, okB := d.schedules[key.B.Venue]
	if !okA || !okB {
		return nil, fmt.Errorf("missing fee schedule for %s or %s", key.A.Venue, key.B.Venue)
	}

	var best *Opportunity
	consider := func(dir Direction, yesRef, noRef market.ContractRef, s optimizer.Sizing, err error) error {
		if err != nil {
			if isExpectedOutcome(err) {
				return nil
			}
			return err
		}
		op := newOpportunity(key, dir, yesRef, noRef, s, now)
		switch {
		case best == nil:
			best = op
		case op.NetProfit > best.NetProfit:
			best = op
		case op.NetProfit == best.NetProfit && op.Slippage() < best.Slippage():
			best = op
		}
		return nil
	}

	sAB, errAB := optimizer.Optimize(
		optimizer.Leg{Venue: key.A.Venue, Outcome: "yes", Asks: bookA.Yes.Asks, Sched: schedA},
		optimizer.Leg{Venue: key.B.Venue, Outcome: "no", Asks: bookB.No.Asks, Sched: schedB},
		d.sizing,
	)
	if err := consider(DirectionYesANoB, key.A, key.B, sAB, errAB); err != nil {
		return nil, err
	}

	sBA, errBA := optimizer.Optimize(
		optimizer.Leg{Venue: key.B.Venue, Outcome: "yes", Asks: bookB.Yes.Asks, Sched: schedB},
		optimizer.Leg{Venue: key.A.Venue, Outcome: "no", Asks: bookA.No.Asks, Sched: schedA},
		d.sizing,
	)
	if err := consider(DirectionYesBNoA, key.B, key.A, sBA, errBA); err != nil {
		return nil, err
	}

	return best, nil
}

func isExpectedOutcome(err error) bool {
	return errors.Is(err, optimizer.ErrNoLiquidity) ||
		errors.Is(err, optimizer.ErrUnprofitable) ||
		errors.Is(err, fees.ErrInsufficientLiquidity)
}
