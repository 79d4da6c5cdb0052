package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrCatalogClosed = errors.New("catalog is closed")

const catalogSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	mode        TEXT NOT NULL,
	hypers_only INTEGER NOT NULL DEFAULT 0,
	seed        INTEGER NOT NULL,
	particles   INTEGER NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS stages (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	idx         INTEGER NOT NULL,
	beta        REAL NOT NULL,
	ess         REAL NOT NULL,
	acceptance  REAL NOT NULL,
	scale       REAL NOT NULL,
	steps       INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_stages_run ON stages(run_id);
`

// Run statuses recorded in the catalog.
const (
	RunStatusActive   = "active"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// RunRecord is one row in the runs table.
type RunRecord struct {
	ID         string
	Project    string
	Mode       string
	HypersOnly bool
	Seed       uint64
	Particles  int
	Status     string
	CreatedAt  time.Time
}

// StageRecord is one row in the stages table, a summary of a completed stage.
// The full population lives in the stage snapshot, not here.
type StageRecord struct {
	RunID      string
	Index      int
	Beta       float64
	ESS        float64
	Acceptance float64
	Scale      float64
	Steps      int
	Duration   time.Duration
	CreatedAt  time.Time
}

// Catalog records run and stage summaries in a per-project SQLite database
// so diagnostics can enumerate runs without scanning stage snapshots.
type Catalog struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenCatalog opens (creating if needed) the project run catalog.
func OpenCatalog(path string) (*Catalog, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_synchronous=normal", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog at %s: %w", path, err)
	}

	if _, err := db.Exec(catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate catalog at %s: %w", path, err)
	}

	return &Catalog{db: db, path: path}, nil
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// RecordRun inserts a new run row with status active.
func (c *Catalog) RecordRun(r RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrCatalogClosed
	}

	_, err := c.db.Exec(
		`INSERT INTO runs (id, project, mode, hypers_only, seed, particles, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Project, r.Mode, boolToInt(r.HypersOnly), int64(r.Seed), r.Particles, r.Status, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateRunStatus transitions a run to complete or failed.
func (c *Catalog) UpdateRunStatus(runID, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrCatalogClosed
	}

	_, err := c.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

// RecordStage upserts a stage summary row. Re-recording the same index is
// legal on resume: the snapshot is the source of truth.
func (c *Catalog) RecordStage(s StageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return ErrCatalogClosed
	}

	_, err := c.db.Exec(
		`INSERT INTO stages (run_id, idx, beta, ess, acceptance, scale, steps, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, idx) DO UPDATE SET
		   beta = excluded.beta, ess = excluded.ess, acceptance = excluded.acceptance,
		   scale = excluded.scale, steps = excluded.steps,
		   duration_ms = excluded.duration_ms, created_at = excluded.created_at`,
		s.RunID, s.Index, s.Beta, s.ESS, s.Acceptance, s.Scale, s.Steps,
		s.Duration.Milliseconds(), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record stage %d of run %s: %w", s.Index, s.RunID, err)
	}
	return nil
}

// Runs lists all runs, newest first.
func (c *Catalog) Runs() ([]RunRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, ErrCatalogClosed
	}

	rows, err := c.db.Query(
		`SELECT id, project, mode, hypers_only, seed, particles, status, created_at
		 FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var hypers int
		var seed int64
		if err := rows.Scan(&r.ID, &r.Project, &r.Mode, &hypers, &seed, &r.Particles, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.HypersOnly = hypers != 0
		r.Seed = uint64(seed)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the newest run, or nil if the catalog is empty.
func (c *Catalog) LatestRun() (*RunRecord, error) {
	runs, err := c.Runs()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// Stages lists the stage summaries of one run in stage order.
func (c *Catalog) Stages(runID string) ([]StageRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, ErrCatalogClosed
	}

	rows, err := c.db.Query(
		`SELECT run_id, idx, beta, ess, acceptance, scale, steps, duration_ms, created_at
		 FROM stages WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages for run %s: %w", runID, err)
	}
	defer rows.Close()

	var stages []StageRecord
	for rows.Next() {
		var s StageRecord
		var durationMs int64
		if err := rows.Scan(&s.RunID, &s.Index, &s.Beta, &s.ESS, &s.Acceptance, &s.Scale, &s.Steps, &durationMs, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(durationMs) * time.Millisecond
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
