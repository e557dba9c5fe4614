package sqlite

import (
	"context"
	"database/sql"

	"github.com/crossarb/crossarb/internal/engine"
)

// SaveHalt upserts the single halt row so the flag survives restarts.
func (s *Store) SaveHalt(ctx context.Context, state engine.HaltState) error {
	halted := 0
	if state.Halted {
		halted = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO halt_flag (id, halted, actor, changed_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET halted = excluded.halted,
			actor = excluded.actor, changed_at = excluded.changed_at`,
		halted, state.Actor, formatTime(state.ChangedAt))
	return err
}

// LoadHalt reads the persisted flag. A missing row means the engine has never
// been halted and is reported as not halted.
func (s *Store) LoadHalt(ctx context.Context) (engine.HaltState, error) {
	var (
		halted int
		state  engine.HaltState
		at     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT halted, actor, changed_at FROM halt_flag WHERE id = 1`,
	).Scan(&halted, &state.Actor, &at)
	if err == sql.ErrNoRows {
		return engine.HaltState{}, nil
	}
	if err != nil {
		return engine.HaltState{}, err
	}
	state.Halted = halted != 0
	state.ChangedAt = parseTime(at)
	return state, nil
}
