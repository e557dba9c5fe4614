package matchcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
)

// Backend persists revisions. Writes are append-only: a new revision per
// upsert, never in-place mutation, so the full audit trail survives.
type Backend interface {
	AppendRevision(ctx context.Context, keyHash string, rec MatchRecord) error
	Latest(ctx context.Context, keyHash string) (*MatchRecord, error)
	LatestAll(ctx context.Context) ([]MatchRecord, error)
}

// RecordCache is an optional look-aside over the backend (redis in
// production). A nil cache disables it.
type RecordCache interface {
	Get(ctx context.Context, keyHash string) (*MatchRecord, bool, error)
	Set(ctx context.Context, keyHash string, rec MatchRecord) error
}

// Store owns the MatchRecord lifecycle. All writes are serialized through one
// mutex to keep the append-only revision ordering coherent.
type Store struct {
	backend Backend
	cache   RecordCache
	mu      sync.Mutex
	now     func() time.Time
}

func NewStore(backend Backend, cache RecordCache) *Store {
	return &Store{backend: backend, cache: cache, now: time.Now}
}

// Lookup returns the latest revision for the pair, or nil when unknown.
func (s *Store) Lookup(ctx context.Context, key market.MatchKey) (*MatchRecord, error) {
	hash := key.Hash()
	if s.cache != nil {
		if rec, ok, err := s.cache.Get(ctx, hash); err != nil {
			logging.Warnf("[match-cache] redis get %s: %v", hash[:12], err)
		} else if ok {
			return rec, nil
		}
	}
	rec, err := s.backend.Latest(ctx, hash)
	if err != nil {
		return nil, err
	}
	if rec != nil && s.cache != nil {
		if err := s.cache.Set(ctx, hash, *rec); err != nil {
			logging.Warnf("[match-cache] redis set %s: %v", hash[:12], err)
		}
	}
	return rec, nil
}

// UpsertOptions carry the explicit operator flags a write may need.
type UpsertOptions struct {
	// Reopen allows a REJECTED pair back into the lifecycle. Operator action;
	// the revision it produces is the log of that action.
	Reopen bool
}

// Upsert appends a new revision. Every write must be attributed; rejections
// must carry a reason. Illegal transitions return *ConflictError.
func (s *Store) Upsert(ctx context.Context, rec MatchRecord, opts UpsertOptions) error {
	if rec.Actor == "" {
		return fmt.Errorf("match cache: upsert without actor for %s", rec.Key)
	}
	if rec.State == StateRejected && rec.Reason == "" {
		return fmt.Errorf("match cache: rejection without reason for %s", rec.Key)
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := rec.Key.Hash()
	current, err := s.backend.Latest(ctx, hash)
	if err != nil {
		return err
	}
	if err := checkTransition(current, rec.State, opts.Reopen); err != nil {
		return err
	}
	if err := s.backend.AppendRevision(ctx, hash, rec); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, hash, rec); err != nil {
			logging.Warnf("[match-cache] redis set %s: %v", hash[:12], err)
		}
	}
	return nil
}

// Deactivate parks a VERIFIED pair without losing its history.
func (s *Store) Deactivate(ctx context.Context, key market.MatchKey, actor, reason string) error {
	return s.setActive(ctx, key, actor, reason, false)
}

// Reactivate re-enables a deactivated VERIFIED pair.
func (s *Store) Reactivate(ctx context.Context, key market.MatchKey, actor, reason string) error {
	return s.setActive(ctx, key, actor, reason, true)
}

func (s *Store) setActive(ctx context.Context, key market.MatchKey, actor, reason string, active bool) error {
	current, err := s.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if current == nil || current.State != StateVerified {
		return fmt.Errorf("match cache: %s is not verified", key)
	}
	next := *current
	next.Active = active
	next.Actor = actor
	next.Reason = reason
	next.DecidedAt = s.now().UTC()
	return s.Upsert(ctx, next, UpsertOptions{})
}

// ListActiveVerified returns the pairs the detector should scan.
func (s *Store) ListActiveVerified(ctx context.Context) ([]MatchRecord, error) {
	return s.listByState(ctx, StateVerified, true)
}

// ListPending returns open pairs awaiting a verdict.
func (s *Store) ListPending(ctx context.Context) ([]MatchRecord, error) {
	return s.listByState(ctx, StatePending, false)
}

func (s *Store) listByState(ctx context.Context, state State, activeOnly bool) ([]MatchRecord, error) {
	all, err := s.backend.LatestAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []MatchRecord
	for _, rec := range all {
		if rec.State != state {
			continue
		}
		if activeOnly && !rec.Active {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
