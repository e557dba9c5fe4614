package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/crossarb/crossarb/internal/matchcache"
)

// AppendRevision inserts a new revision row for the pair. Rows are never
// updated or deleted: the table is the audit trail.
func (s *Store) AppendRevision(ctx context.Context, keyHash string, rec matchcache.MatchRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal match record: %w", err)
	}
	active := 0
	if rec.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_revisions (key_hash, state, actor, reason, active, decided_at, record_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		keyHash, string(rec.State), rec.Actor, rec.Reason, active, formatTime(rec.DecidedAt), string(raw),
	)
	return err
}

// Latest returns the newest revision for the pair, or nil when none exists.
func (s *Store) Latest(ctx context.Context, keyHash string) (*matchcache.MatchRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_json FROM match_revisions
		WHERE key_hash = ? ORDER BY id DESC LIMIT 1`, keyHash,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec matchcache.MatchRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode match record: %w", err)
	}
	return &rec, nil
}

// LatestAll returns the newest revision of every known pair.
func (s *Store) LatestAll(ctx context.Context) ([]matchcache.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_json FROM match_revisions r
		WHERE id = (SELECT MAX(id) FROM match_revisions WHERE key_hash = r.key_hash)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []matchcache.MatchRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec matchcache.MatchRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode match record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RevisionCount reports how many revisions a pair has accumulated.
func (s *Store) RevisionCount(ctx context.Context, keyHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM match_revisions WHERE key_hash = ?`, keyHash,
	).Scan(&n)
	return n, err
}
