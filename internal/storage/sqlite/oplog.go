package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crossarb/crossarb/internal/arb"
)

// AppendOpportunity assigns the next monotonic ID and writes the initial row
// plus its first status entry, in one transaction.
func (s *Store) AppendOpportunity(ctx context.Context, op *arb.Opportunity) (int64, error) {
	if op == nil {
		return 0, fmt.Errorf("oplog: nil opportunity")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	raw, err := json.Marshal(op)
	if err != nil {
		return 0, fmt.Errorf("marshal opportunity: %w", err)
	}

	var expires string
	if at := op.ExpiresAt(); !at.IsZero() {
		expires = formatTime(at)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO opportunities
			(key_hash, direction, size, net_profit, profit_pct, payout, detected_at, expires_at, status, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Key.Hash(), string(op.Direction), op.Size, op.NetProfit, op.ProfitPct,
		op.Payout, formatTime(op.DetectedAt), expires, string(op.Status), string(raw),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO opportunity_status (opportunity_id, status, note, changed_at)
		VALUES (?, ?, ?, ?)`,
		id, string(op.Status), op.StatusNote, formatTime(op.DetectedAt),
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// RecordStatus appends a status transition to the history and refreshes the
// denormalized status column used for open-alert queries. The history table
// itself is append-only.
func (s *Store) RecordStatus(ctx context.Context, id int64, status arb.Status, note string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO opportunity_status (opportunity_id, status, note, changed_at)
		VALUES (?, ?, ?, ?)`,
		id, string(status), note, formatTime(at),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE opportunities SET status = ? WHERE id = ?`, string(status), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// OpenAlerts loads opportunities still in ALERTED, for the expiry sweep and
// for matching inbound execute commands.
func (s *Store) OpenAlerts(ctx context.Context) ([]*arb.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, snapshot_json, status FROM opportunities
		WHERE status = ? ORDER BY id`, string(arb.StatusAlerted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*arb.Opportunity
	for rows.Next() {
		var (
			id     int64
			raw    string
			status string
		)
		if err := rows.Scan(&id, &raw, &status); err != nil {
			return nil, err
		}
		var op arb.Opportunity
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			return nil, fmt.Errorf("decode opportunity %d: %w", id, err)
		}
		op.ID = id
		op.Status = arb.Status(status)
		out = append(out, &op)
	}
	return out, rows.Err()
}

// GetOpportunity loads one opportunity by ID, nil when absent.
func (s *Store) GetOpportunity(ctx context.Context, id int64) (*arb.Opportunity, error) {
	var (
		raw    string
		status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json, status FROM opportunities WHERE id = ?`, id,
	).Scan(&raw, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var op arb.Opportunity
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		return nil, fmt.Errorf("decode opportunity %d: %w", id, err)
	}
	op.ID = id
	op.Status = arb.Status(status)
	return &op, nil
}

// StatusHistory returns the transition trail for one opportunity.
func (s *Store) StatusHistory(ctx context.Context, id int64) ([]StatusEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, note, changed_at FROM opportunity_status
		WHERE opportunity_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusEntry
	for rows.Next() {
		var (
			entry StatusEntry
			at    string
		)
		if err := rows.Scan(&entry.Status, &entry.Note, &at); err != nil {
			return nil, err
		}
		entry.ChangedAt = parseTime(at)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// StatusEntry is one row of an opportunity's status trail.
type StatusEntry struct {
	Status    string
	Note      string
	ChangedAt time.Time
}

// ProfitSummary totals realized profit across executed opportunities.
func (s *Store) ProfitSummary(ctx context.Context) (count int, total float64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(net_profit), 0) FROM opportunities WHERE status = ?`,
		string(arb.StatusExecuted),
	).Scan(&count, &total)
	return count, total, err
}
