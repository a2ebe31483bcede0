// ════════════════════════════════════════════════════════════════════════════════════════════════
// Outcome Ledger
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: SQLite record of litmus runs
//
// Description:
//   Every run is appended with its configuration, observations and
//   interleaving fingerprint. Runs of one invocation share a session id.
//   The history command reads outcome histograms back; the run command
//   uses per-session fingerprint counts to flag unstable interleavings.
//
// Schema:
//   runs(id, session, variant, engine, faults, rx, ry, outcome,
//        fingerprint, duration_ns, error, created_at)
// ════════════════════════════════════════════════════════════════════════════════════════════════

package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"rculitmus/litmus"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	session     TEXT NOT NULL,
	variant     TEXT NOT NULL,
	engine      TEXT NOT NULL,
	faults      TEXT NOT NULL,
	rx          INTEGER NOT NULL,
	ry          INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session);
CREATE INDEX IF NOT EXISTS idx_runs_variant ON runs(variant, engine);
`

// Ledger is an open run database.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// NewSession returns a fresh session id for one invocation's runs.
func NewSession() string { return uuid.NewString() }

// Record appends one run. runErr is the error Run returned alongside res,
// if any. It returns the run id.
func (l *Ledger) Record(session string, res *litmus.Result, runErr error) (string, error) {
	id := uuid.NewString()
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := l.db.Exec(`
		INSERT INTO runs (id, session, variant, engine, faults, rx, ry, outcome,
		                  fingerprint, duration_ns, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, session, res.Variant.String(), res.Engine, res.Faults.String(),
		res.Rx, res.Ry, res.Outcome.String(), res.Fingerprint,
		res.Duration.Nanoseconds(), errText, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("ledger: record: %w", err)
	}
	return id, nil
}

// Bucket is one histogram cell.
type Bucket struct {
	Variant string `json:"variant"`
	Engine  string `json:"engine"`
	Outcome string `json:"outcome"`
	Count   int    `json:"count"`
}

// Histogram counts outcomes per variant and engine. An empty variant
// selects all of them.
func (l *Ledger) Histogram(variant string) ([]Bucket, error) {
	rows, err := l.db.Query(`
		SELECT variant, engine, outcome, COUNT(*)
		FROM runs
		WHERE ? = '' OR variant = ?
		GROUP BY variant, engine, outcome
		ORDER BY variant, engine, outcome`, variant, variant)
	if err != nil {
		return nil, fmt.Errorf("ledger: histogram: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Variant, &b.Engine, &b.Outcome, &b.Count); err != nil {
			return nil, fmt.Errorf("ledger: histogram scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: histogram rows: %w", err)
	}
	return out, nil
}

// Fingerprints returns how many runs of session produced each fingerprint.
func (l *Ledger) Fingerprints(session string) (map[string]int, error) {
	rows, err := l.db.Query(`
		SELECT fingerprint, COUNT(*) FROM runs WHERE session = ? GROUP BY fingerprint`, session)
	if err != nil {
		return nil, fmt.Errorf("ledger: fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var fp string
		var n int
		if err := rows.Scan(&fp, &n); err != nil {
			return nil, fmt.Errorf("ledger: fingerprints scan: %w", err)
		}
		out[fp] = n
	}
	return out, rows.Err()
}

// Stable reports whether every run of session interleaved identically.
func (l *Ledger) Stable(session string) (bool, error) {
	fps, err := l.Fingerprints(session)
	if err != nil {
		return false, err
	}
	return len(fps) <= 1, nil
}

// Count returns the number of recorded runs.
func (l *Ledger) Count() (int, error) {
	var n int
	err := l.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n)
	return n, err
}
