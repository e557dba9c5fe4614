package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPath = "data/crossarb.db"

// Store wraps a SQLite DB connection holding the three durable tables:
// match_revisions (append-only audit trail of pair judgments),
// opportunities + opportunity_status (append-only opportunity log), and
// halt_flag (single row).
type Store struct {
	path string
	db   *sql.DB
}

// Open creates (if needed) and opens the SQLite database.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer
	if err := ensureWAL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{path: path, db: db}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

// Path returns the path backing the store.
func (s *Store) Path() string {
	return s.path
}

// Close closes the DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS match_revisions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	key_hash    TEXT NOT NULL,
	state       TEXT NOT NULL,
	actor       TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	active      INTEGER NOT NULL DEFAULT 0,
	decided_at  TEXT NOT NULL,
	record_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS match_revisions_key_idx ON match_revisions(key_hash, id DESC);

CREATE TABLE IF NOT EXISTS opportunities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	key_hash      TEXT NOT NULL,
	direction     TEXT NOT NULL,
	size          REAL NOT NULL,
	net_profit    REAL NOT NULL,
	profit_pct    REAL NOT NULL,
	payout        REAL NOT NULL,
	detected_at   TEXT NOT NULL,
	expires_at    TEXT,
	status        TEXT NOT NULL,
	snapshot_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS opportunities_key_idx ON opportunities(key_hash);
CREATE INDEX IF NOT EXISTS opportunities_status_idx ON opportunities(status);

CREATE TABLE IF NOT EXISTS opportunity_status (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	opportunity_id INTEGER NOT NULL,
	status         TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	changed_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS opportunity_status_op_idx ON opportunity_status(opportunity_id, id);

CREATE TABLE IF NOT EXISTS halt_flag (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	halted     INTEGER NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	changed_at TEXT NOT NULL
);
`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
