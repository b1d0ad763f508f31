// Package sqlite records pipeline runs, per-tile outcomes, patches, and
// hotspots in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/couchcryptid/quake-change-etl/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	ok          INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	patches     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tile_outcomes (
	run_id  TEXT NOT NULL REFERENCES runs(run_id),
	idx     TEXT NOT NULL,
	tile    TEXT NOT NULL,
	status  TEXT NOT NULL,
	stage   TEXT,
	patches INTEGER NOT NULL DEFAULT 0,
	error   TEXT,
	PRIMARY KEY (run_id, idx, tile)
);
CREATE TABLE IF NOT EXISTS patches (
	run_id    TEXT NOT NULL,
	idx       TEXT NOT NULL,
	tile      TEXT NOT NULL,
	patch_row INTEGER NOT NULL,
	patch_col INTEGER NOT NULL,
	mean_diff REAL NOT NULL,
	minx REAL NOT NULL, miny REAL NOT NULL, maxx REAL NOT NULL, maxy REAL NOT NULL,
	PRIMARY KEY (run_id, idx, tile, patch_row, patch_col)
);
CREATE TABLE IF NOT EXISTS hotspots (
	run_id     TEXT NOT NULL,
	idx        TEXT NOT NULL,
	tile       TEXT NOT NULL,
	patch_row  INTEGER NOT NULL,
	patch_col  INTEGER NOT NULL,
	mean_diff  REAL NOT NULL,
	lat        REAL NOT NULL,
	lon        REAL NOT NULL,
	place_name TEXT,
	address    TEXT,
	PRIMARY KEY (run_id, idx, tile, patch_row, patch_col)
);
CREATE INDEX IF NOT EXISTS idx_patches_layer ON patches(idx, tile);`

// Ledger is a run ledger backed by SQLite.
// It implements pipeline.Ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path and applies the schema.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer; the pipeline is sequential.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordReport upserts the run row and its tile outcomes.
func (l *Ledger) RecordReport(ctx context.Context, r *domain.Report) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (run_id, stage, started_at, finished_at, ok, skipped, failed, patches)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				finished_at = excluded.finished_at,
				ok = excluded.ok, skipped = excluded.skipped,
				failed = excluded.failed, patches = excluded.patches`,
			r.RunID, r.Stage, formatTime(r.StartedAt), formatTime(r.FinishedAt),
			r.Count(domain.StatusOK), r.Count(domain.StatusSkipped), r.Count(domain.StatusFailed), r.Patches(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO tile_outcomes (run_id, idx, tile, status, stage, patches, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range r.Outcomes {
			if _, err := stmt.ExecContext(ctx, r.RunID, string(o.Index), o.Tile, string(o.Status),
				o.Stage, o.Patches, o.Err); err != nil {
				return fmt.Errorf("insert outcome %s/%s: %w", o.Index, o.Tile, err)
			}
		}
		return nil
	})
}

// RecordPatches stores the patches of one layer.
func (l *Ledger) RecordPatches(ctx context.Context, runID string, index domain.Index, patches []domain.Patch) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO patches (run_id, idx, tile, patch_row, patch_col, mean_diff, minx, miny, maxx, maxy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range patches {
			if _, err := stmt.ExecContext(ctx, runID, string(index), p.Tile, p.Row, p.Col, p.MeanDiff,
				p.Bounds.MinX, p.Bounds.MinY, p.Bounds.MaxX, p.Bounds.MaxY); err != nil {
				return fmt.Errorf("insert patch %s/%d/%d: %w", p.Tile, p.Row, p.Col, err)
			}
		}
		return nil
	})
}

// RecordHotspots stores labelled hotspots.
func (l *Ledger) RecordHotspots(ctx context.Context, runID string, hotspots []domain.Hotspot) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		for _, h := range hotspots {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO hotspots (run_id, idx, tile, patch_row, patch_col, mean_diff, lat, lon, place_name, address)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				runID, string(h.Index), h.Tile, h.Row, h.Col, h.MeanDiff, h.Lat, h.Lon, h.PlaceName, h.Address,
			); err != nil {
				return fmt.Errorf("insert hotspot %s/%s: %w", h.Index, h.Tile, err)
			}
		}
		return nil
	})
}

// RunSummary is a row of the runs table.
type RunSummary struct {
	RunID      string
	Stage      string
	StartedAt  time.Time
	FinishedAt time.Time
	OK         int
	Skipped    int
	Failed     int
	Patches    int
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, stage, started_at, COALESCE(finished_at, ''), ok, skipped, failed, patches
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished string
		if err := rows.Scan(&s.RunID, &s.Stage, &started, &finished, &s.OK, &s.Skipped, &s.Failed, &s.Patches); err != nil {
			return nil, err
		}
		s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		s.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Outcomes returns the tile outcomes of a run ordered by index and tile.
func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]domain.Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT idx, tile, status, COALESCE(stage, ''), patches, COALESCE(error, '')
		FROM tile_outcomes WHERE run_id = ? ORDER BY idx, tile`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		var idx, status string
		if err := rows.Scan(&idx, &o.Tile, &status, &o.Stage, &o.Patches, &o.Err); err != nil {
			return nil, err
		}
		o.Index = domain.Index(idx)
		o.Status = domain.Status(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// PatchCount returns the number of stored patches for a run and index.
func (l *Ledger) PatchCount(ctx context.Context, runID string, index domain.Index) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patches WHERE run_id = ? AND idx = ?`, runID, string(index)).Scan(&n)
	return n, err
}

func (l *Ledger) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
