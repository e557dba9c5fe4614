package matchcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crossarb/crossarb/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend keeps full revision history in memory, mirroring the sqlite
// backend's append-only contract.
type memBackend struct {
	mu   sync.Mutex
	revs map[string][]MatchRecord
}

func newMemBackend() *memBackend {
	return &memBackend{revs: make(map[string][]MatchRecord)}
}

func (b *memBackend) AppendRevision(_ context.Context, hash string, rec MatchRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revs[hash] = append(b.revs[hash], rec)
	return nil
}

func (b *memBackend) Latest(_ context.Context, hash string) (*MatchRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	revs := b.revs[hash]
	if len(revs) == 0 {
		return nil, nil
	}
	rec := revs[len(revs)-1]
	return &rec, nil
}

func (b *memBackend) LatestAll(_ context.Context) ([]MatchRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []MatchRecord
	for _, revs := range b.revs {
		out = append(out, revs[len(revs)-1])
	}
	return out, nil
}

func testKey(t *testing.T, id string) market.MatchKey {
	t.Helper()
	k, err := market.NewMatchKey(
		market.ContractRef{Venue: market.VenueKalshi, ContractID: "KX-" + id},
		market.ContractRef{Venue: market.VenuePolymarket, ContractID: "0x" + id},
	)
	require.NoError(t, err)
	return k
}

func TestStore_LookupAfterUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)
	key := testKey(t, "aaa")

	got, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got, "unknown pair")

	rec := MatchRecord{Key: key, State: StatePending, Actor: "suggester", Confidence: 0.9}
	require.NoError(t, s.Upsert(ctx, rec, UpsertOptions{}))

	got, err = s.Lookup(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatePending, got.State)
	assert.False(t, got.DecidedAt.IsZero(), "writes are timestamped")
}

func TestStore_UpsertRequiresActor(t *testing.T) {
	s := NewStore(newMemBackend(), nil)
	err := s.Upsert(context.Background(), MatchRecord{Key: testKey(t, "bbb"), State: StatePending}, UpsertOptions{})
	assert.Error(t, err)
}

func TestStore_RejectionRequiresReason(t *testing.T) {
	s := NewStore(newMemBackend(), nil)
	key := testKey(t, "ccc")
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: key, State: StatePending, Actor: "a"}, UpsertOptions{}))
	err := s.Upsert(ctx, MatchRecord{Key: key, State: StateRejected, Actor: "a"}, UpsertOptions{})
	assert.Error(t, err)
}

func TestStore_RejectedIsPermanentWithoutReopen(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)
	key := testKey(t, "ddd")

	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: key, State: StatePending, Actor: "a"}, UpsertOptions{}))
	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: key, State: StateRejected, Actor: "pm", Reason: "different events"}, UpsertOptions{}))

	err := s.Upsert(ctx, MatchRecord{Key: key, State: StateVerified, Actor: "pm", Active: true}, UpsertOptions{})
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	// Explicit reopen is the only way back.
	err = s.Upsert(ctx, MatchRecord{Key: key, State: StateVerified, Actor: "pm", Active: true}, UpsertOptions{Reopen: true})
	require.NoError(t, err)

	got, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, got.State)
}

func TestStore_VerifiedCannotMoveBackward(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)
	key := testKey(t, "eee")

	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: key, State: StateVerified, Actor: "pm", Active: true}, UpsertOptions{}))

	var conflict *ConflictError
	err := s.Upsert(ctx, MatchRecord{Key: key, State: StatePending, Actor: "pm"}, UpsertOptions{})
	assert.ErrorAs(t, err, &conflict)
	err = s.Upsert(ctx, MatchRecord{Key: key, State: StateRejected, Actor: "pm", Reason: "x"}, UpsertOptions{})
	assert.ErrorAs(t, err, &conflict)
}

func TestStore_DeactivatePreservesHistory(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := NewStore(backend, nil)
	key := testKey(t, "fff")

	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: key, State: StateVerified, Actor: "pm", Active: true}, UpsertOptions{}))
	require.NoError(t, s.Deactivate(ctx, key, "ops", "contract expired"))

	got, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, got.State)
	assert.False(t, got.Active)

	assert.Len(t, backend.revs[key.Hash()], 2, "deactivation appends, never rewrites")

	require.NoError(t, s.Reactivate(ctx, key, "ops", "relisted"))
	got, _ = s.Lookup(ctx, key)
	assert.True(t, got.Active)
}

func TestStore_DeactivateNonVerified(t *testing.T) {
	s := NewStore(newMemBackend(), nil)
	err := s.Deactivate(context.Background(), testKey(t, "ggg"), "ops", "n/a")
	assert.Error(t, err)
}

func TestStore_ListActiveVerified(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newMemBackend(), nil)

	active := testKey(t, "111")
	inactive := testKey(t, "222")
	pending := testKey(t, "333")

	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: active, State: StateVerified, Actor: "pm", Active: true}, UpsertOptions{}))
	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: inactive, State: StateVerified, Actor: "pm", Active: true}, UpsertOptions{}))
	require.NoError(t, s.Deactivate(ctx, inactive, "ops", "expired"))
	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: pending, State: StatePending, Actor: "a"}, UpsertOptions{}))

	verified, err := s.ListActiveVerified(ctx)
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, active.Hash(), verified[0].Key.Hash())

	open, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pending.Hash(), open[0].Key.Hash())
}

func TestStore_UsesCacheOnLookup(t *testing.T) {
	ctx := context.Background()
	cache := &countingCache{data: make(map[string]MatchRecord)}
	s := NewStore(newMemBackend(), cache)
	key := testKey(t, "hhh")

	require.NoError(t, s.Upsert(ctx, MatchRecord{Key: key, State: StatePending, Actor: "a"}, UpsertOptions{}))

	_, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "upsert populated the cache")
}

type countingCache struct {
	mu   sync.Mutex
	data map[string]MatchRecord
	hits int
}

func (c *countingCache) Get(_ context.Context, hash string) (*MatchRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.data[hash]
	if ok {
		c.hits++
		return &rec, true, nil
	}
	return nil, false, nil
}

func (c *countingCache) Set(_ context.Context, hash string, rec MatchRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[hash] = rec
	return nil
}

func TestCheckTransition_Timestamps(t *testing.T) {
	s := NewStore(newMemBackend(), nil)
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	key := testKey(t, "iii")
	require.NoError(t, s.Upsert(context.Background(), MatchRecord{Key: key, State: StatePending, Actor: "a"}, UpsertOptions{}))
	got, _ := s.Lookup(context.Background(), key)
	assert.Equal(t, fixed, got.DecidedAt)
}
