// Package store records mediator pools step by step in SQLite, so a run's
// evolution can be inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"porchlight/internal/cell"
	"porchlight/internal/logging"
)

// Schema versions:
// v1: runs and samples tables
const CurrentSchemaVersion = 1

// ErrUnknownRun is returned for a run ID that was never begun.
var ErrUnknownRun = errors.New("unknown run")

// Run summarizes one recorded mediator run.
type Run struct {
	ID        string
	Model     string
	Meta      map[string]string
	StartedAt time.Time
	Steps     int // highest recorded step
}

// Sample is one cell's state at one step.
type Sample struct {
	Step    int
	Name    string
	Value   any // decoded JSON; cell.Absent when the cell held no value
	Raw     string
	Type    string
	Mutable bool
}

// Recorder writes cell states per step.
type Recorder struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open opens or creates the database at path. ":memory:" keeps everything in RAM.
func Open(path string) (*Recorder, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening step recorder at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	r := &Recorder{db: db, dbPath: path}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Step recorder schema ready (v%d)", CurrentSchemaVersion)
	return r, nil
}

func (r *Recorder) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			meta TEXT NOT NULL DEFAULT '{}',
			started_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL REFERENCES runs(id),
			step INTEGER NOT NULL,
			name TEXT NOT NULL,
			value TEXT,
			type TEXT NOT NULL,
			mutable INTEGER NOT NULL,
			PRIMARY KEY (run_id, step, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_name ON samples(run_id, name, step)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	var version int
	err := r.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.db.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version > CurrentSchemaVersion:
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, CurrentSchemaVersion)
	}
	return nil
}

// BeginRun registers a run and returns its ID. An empty id gets a UUID.
func (r *Recorder) BeginRun(ctx context.Context, id, model string, meta map[string]string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode run meta: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO runs (id, model, meta, started_at) VALUES (?, ?, ?, ?)",
		id, model, string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to begin run: %w", err)
	}
	logging.Store("Began run %s for model %s", id, model)
	return id, nil
}

// RecordStep stores every cell state for one step in a single transaction.
func (r *Recorder) RecordStep(ctx context.Context, runID string, step int, cells []cell.State) error {
	timer := logging.StartTimer(logging.CategoryStore, "RecordStep")
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRun(ctx, runID); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO samples (run_id, step, name, value, type, mutable) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range cells {
		value, err := encodeValue(st.Value)
		if err != nil {
			return fmt.Errorf("cell %s: %w", st.Name, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, step, st.Name, value, st.Type, st.Mutable); err != nil {
			return fmt.Errorf("failed to record %s: %w", st.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step %d: %w", step, err)
	}
	logging.StoreDebug("Recorded step %d of run %s (%d cells)", step, runID, len(cells))
	return nil
}

// StepHook returns a function recording each completed step of runID. It
// matches mediator.StepHook.
func (r *Recorder) StepHook(runID string) func(context.Context, int, []cell.State) error {
	return func(ctx context.Context, step int, cells []cell.State) error {
		return r.RecordStep(ctx, runID, step, cells)
	}
}

func (r *Recorder) checkRun(ctx context.Context, runID string) error {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&n); err != nil {
		return fmt.Errorf("failed to look up run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

// History returns one cell's samples in step order.
func (r *Recorder) History(ctx context.Context, runID, name string) ([]Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT step, name, value, type, mutable FROM samples WHERE run_id = ? AND name = ? ORDER BY step",
		runID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanSamples(rows)
}

// Step returns every cell's sample at one step, sorted by name.
func (r *Recorder) Step(ctx context.Context, runID string, step int) ([]Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT step, name, value, type, mutable FROM samples WHERE run_id = ? AND step = ? ORDER BY name",
		runID, step)
	if err != nil {
		return nil, fmt.Errorf("failed to query step: %w", err)
	}
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]Sample, error) {
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			s   Sample
			raw sql.NullString
		)
		if err := rows.Scan(&s.Step, &s.Name, &raw, &s.Type, &s.Mutable); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		if !raw.Valid {
			s.Value = cell.Absent
		} else {
			s.Raw = raw.String
			if err := json.Unmarshal([]byte(raw.String), &s.Value); err != nil {
				return nil, fmt.Errorf("failed to decode %s at step %d: %w", s.Name, s.Step, err)
			}
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Runs lists recorded runs, oldest first.
func (r *Recorder) Runs(ctx context.Context) ([]Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.model, r.meta, r.started_at, COALESCE(MAX(s.step), 0)
		FROM runs r LEFT JOIN samples s ON s.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at, r.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run       Run
			meta      string
			startedAt string
		)
		if err := rows.Scan(&run.ID, &run.Model, &meta, &startedAt, &run.Steps); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &run.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode meta for %s: %w", run.ID, err)
		}
		run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start time for %s: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// encodeValue renders a cell value as JSON. Absent is stored as NULL and
// values JSON cannot represent are stored as their printed form.
func encodeValue(v any) (any, error) {
	if cell.IsAbsent(v) {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, err = json.Marshal(fmt.Sprintf("%v", v))
		if err != nil {
			return nil, err
		}
	}
	return string(data), nil
}
