package resolver

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/crossarb/crossarb/internal/hashutil"
	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/matchcache"
)

// CandidatePair is a suggested equivalence between two venue contracts, not
// yet trusted for execution.
type CandidatePair struct {
	Key        market.MatchKey
	Confidence float64
	Evidence   string
}

// Suggester yields candidate pairs for one scan cycle. The sequence is lazy
// and finite; yielding an error for a candidate skips that candidate only.
type Suggester interface {
	Candidates(ctx context.Context) iter.Seq2[CandidatePair, error]
}

// VerificationRequest asks an external reviewer to confirm or reject a pair.
// Emitted exactly once per pair while it stays PENDING.
type VerificationRequest struct {
	Key         market.MatchKey    `json:"key"`
	A           market.ContractRef `json:"a"`
	B           market.ContractRef `json:"b"`
	Confidence  float64            `json:"confidence"`
	Evidence    string             `json:"evidence"`
	RequestedAt time.Time          `json:"requested_at"`
}

// RequestSink receives verification requests (kafka topic in production).
type RequestSink interface {
	SendVerificationRequest(ctx context.Context, req VerificationRequest) error
}

// Verdict is an external judgment on a pending pair.
type Verdict struct {
	Key        market.MatchKey
	Verified   bool
	Actor      string
	Reason     string
	Confidence float64
	Evidence   string
}

// Verifier collects verdicts that arrived since the last cycle.
type Verifier interface {
	Collect(ctx context.Context) ([]Verdict, error)
}

// Resolver owns the pending lifecycle: new candidates become PENDING with one
// outbound request, verdicts settle them, and stale ones time out.
type Resolver struct {
	cache   *matchcache.Store
	sink    RequestSink
	timeout time.Duration
	now     func() time.Time
}

type Config struct {
	Cache   *matchcache.Store
	Sink    RequestSink
	Timeout time.Duration // pending age before auto-rejection; default 24h
	Now     func() time.Time
}

func New(cfg Config) *Resolver {
	r := &Resolver{cache: cfg.Cache, sink: cfg.Sink, timeout: cfg.Timeout, now: cfg.Now}
	if r.timeout <= 0 {
		r.timeout = 24 * time.Hour
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Resolve walks one cycle's candidates. Rejected pairs are skipped for good,
// pairs already pending wait for their verdict, and unknown pairs get a
// PENDING record plus a single verification request.
func (r *Resolver) Resolve(ctx context.Context, sugg Suggester) error {
	for cand, err := range sugg.Candidates(ctx) {
		if err != nil {
			logging.Warnf("[resolver] candidate skipped: %v", err)
			continue
		}
		if err := r.resolveOne(ctx, cand); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warnf("[resolver] %s: %v", hashutil.Short(cand.Key.Hash()), err)
		}
	}
	return ctx.Err()
}

func (r *Resolver) resolveOne(ctx context.Context, cand CandidatePair) error {
	rec, err := r.cache.Lookup(ctx, cand.Key)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	if rec != nil {
		switch rec.State {
		case matchcache.StateRejected:
			return nil
		case matchcache.StatePending, matchcache.StateVerified:
			// Already in flight or settled; the request was sent when the
			// record was created.
			return nil
		}
	}

	now := r.now().UTC()
	if err := r.cache.Upsert(ctx, matchcache.MatchRecord{
		Key:        cand.Key,
		State:      matchcache.StatePending,
		Actor:      "suggester",
		Confidence: cand.Confidence,
		Evidence:   cand.Evidence,
		DecidedAt:  now,
	}, matchcache.UpsertOptions{}); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}

	req := VerificationRequest{
		Key:         cand.Key,
		A:           cand.Key.A,
		B:           cand.Key.B,
		Confidence:  cand.Confidence,
		Evidence:    cand.Evidence,
		RequestedAt: now,
	}
	if err := r.sink.SendVerificationRequest(ctx, req); err != nil {
		// The pair stays PENDING; the timeout will reap it if no verdict
		// ever lands.
		return fmt.Errorf("send request: %w", err)
	}
	logging.Infof("[resolver] pending %s (confidence %.2f)", hashutil.Short(cand.Key.Hash()), cand.Confidence)
	return nil
}

// ApplyVerdicts settles pending pairs. A verdict for a pair that is not
// PENDING is logged and dropped; the cache's transition rules are the
// authority.
func (r *Resolver) ApplyVerdicts(ctx context.Context, verdicts []Verdict) error {
	for _, v := range verdicts {
		if v.Actor == "" {
			logging.Warnf("[resolver] verdict without actor for %s dropped", hashutil.Short(v.Key.Hash()))
			continue
		}
		rec := matchcache.MatchRecord{
			Key:        v.Key,
			Actor:      v.Actor,
			Reason:     v.Reason,
			Confidence: v.Confidence,
			Evidence:   v.Evidence,
			DecidedAt:  r.now().UTC(),
		}
		if v.Verified {
			rec.State = matchcache.StateVerified
			rec.Active = true
		} else {
			rec.State = matchcache.StateRejected
		}
		if err := r.cache.Upsert(ctx, rec, matchcache.UpsertOptions{}); err != nil {
			if matchcache.IsConflict(err) {
				logging.Warnf("[resolver] verdict for %s conflicts with current state: %v",
					hashutil.Short(v.Key.Hash()), err)
				continue
			}
			return err
		}
		logging.Infof("[resolver] %s -> %s by %s", hashutil.Short(v.Key.Hash()), rec.State, v.Actor)
	}
	return nil
}

// ExpirePending rejects every pending pair whose age reached the timeout.
// Age is measured from the pending revision's DecidedAt; exactly-at-timeout
// expires.
func (r *Resolver) ExpirePending(ctx context.Context) (int, error) {
	pending, err := r.cache.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	expired := 0
	for _, rec := range pending {
		if now.Sub(rec.DecidedAt) < r.timeout {
			continue
		}
		if err := r.cache.Upsert(ctx, matchcache.MatchRecord{
			Key:       rec.Key,
			State:     matchcache.StateRejected,
			Actor:     "system",
			Reason:    "timeout",
			DecidedAt: now,
		}, matchcache.UpsertOptions{}); err != nil {
			logging.Warnf("[resolver] expire %s: %v", hashutil.Short(rec.Key.Hash()), err)
			continue
		}
		expired++
	}
	if expired > 0 {
		logging.Infof("[resolver] expired %d pending pair(s)", expired)
	}
	return expired, nil
}
