package engine

import (
	"context"
	"sync"
	"time"

	"github.com/crossarb/crossarb/internal/logging"
)

// HaltState is the persisted halt flag with attribution.
type HaltState struct {
	Halted    bool
	Actor     string
	ChangedAt time.Time
}

// HaltStore persists the flag so a restart comes back in the same mode.
type HaltStore interface {
	SaveHalt(ctx context.Context, state HaltState) error
	LoadHalt(ctx context.Context) (HaltState, error)
}

// HaltFlag is the shared halt switch. Settable from the command bus at any
// time; every status transition reads it through Halted before committing.
type HaltFlag struct {
	mu    sync.Mutex
	state HaltState
	store HaltStore
	now   func() time.Time
}

// NewHaltFlag loads the persisted state so a halt survives restarts.
func NewHaltFlag(ctx context.Context, store HaltStore) (*HaltFlag, error) {
	f := &HaltFlag{store: store, now: time.Now}
	if store != nil {
		state, err := store.LoadHalt(ctx)
		if err != nil {
			return nil, err
		}
		f.state = state
	}
	return f, nil
}

// Halted is the single read accessor for transition checkpoints.
func (f *HaltFlag) Halted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Halted
}

// State returns a copy of the current flag with attribution.
func (f *HaltFlag) State() HaltState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Halt sets the flag. Takes effect for any opportunity not yet executed,
// including mid-cycle.
func (f *HaltFlag) Halt(ctx context.Context, actor string) error {
	return f.set(ctx, true, actor)
}

// Resume clears the flag.
func (f *HaltFlag) Resume(ctx context.Context, actor string) error {
	return f.set(ctx, false, actor)
}

func (f *HaltFlag) set(ctx context.Context, halted bool, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Halted == halted {
		return nil
	}
	state := HaltState{Halted: halted, Actor: actor, ChangedAt: f.now().UTC()}
	if f.store != nil {
		if err := f.store.SaveHalt(ctx, state); err != nil {
			return err
		}
	}
	f.state = state
	if halted {
		logging.Infof("[engine] halted by %s", actor)
	} else {
		logging.Infof("[engine] resumed by %s", actor)
	}
	return nil
}
