package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// History Store - per-step replay selection history in SQLite
// =============================================================================

// HistoryStore persists StepRecords so runs can be compared after the fact.
type HistoryStore struct {
	db       *sql.DB
	path     string
	logger   *slog.Logger
	failures atomic.Int64
}

// OpenHistory opens or creates the SQLite database at path. ":memory:" is
// accepted for ephemeral use.
func OpenHistory(path string, logger *slog.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and writes ordered
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS replay_steps (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		path TEXT NOT NULL,
		stream INTEGER NOT NULL,
		selected INTEGER NOT NULL,
		population INTEGER NOT NULL,
		class_std REAL NOT NULL,
		sample_std REAL NOT NULL,
		duration_ns INTEGER NOT NULL,
		recorded_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, step)
	);

	CREATE INDEX IF NOT EXISTS idx_replay_steps_path ON replay_steps(path);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &HistoryStore{db: db, path: path, logger: logger}, nil
}

// Record writes rec, replacing any previous record of the same run and step.
func (h *HistoryStore) Record(ctx context.Context, rec StepRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO replay_steps
			(run_id, step, path, stream, selected, population, class_std, sample_std, duration_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Step, rec.Path, rec.Stream, rec.Selected, rec.Population,
		rec.ClassStd, rec.SampleStd, int64(rec.Duration), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record step %d: %w", rec.Step, err)
	}
	return nil
}

// Observe implements StatsSink. Write failures are logged and counted.
func (h *HistoryStore) Observe(rec StepRecord) {
	if err := h.Record(context.Background(), rec); err != nil {
		h.failures.Add(1)
		h.logger.Warn("history write failed", "step", rec.Step, "error", err)
	}
}

// Failures returns how many Observe writes failed.
func (h *HistoryStore) Failures() int64 {
	return h.failures.Load()
}

// Steps returns every record of runID ordered by step.
func (h *HistoryStore) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, step, path, stream, selected, population, class_std, sample_std, duration_ns
		FROM replay_steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var rec StepRecord
		var durNs int64
		if err := rows.Scan(&rec.RunID, &rec.Step, &rec.Path, &rec.Stream, &rec.Selected,
			&rec.Population, &rec.ClassStd, &rec.SampleStd, &durNs); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Duration = time.Duration(durNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PathSummary counts a run's steps by selection path.
func (h *HistoryStore) PathSummary(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT path, COUNT(*) FROM replay_steps WHERE run_id = ? GROUP BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize run: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out[path] = n
	}
	return out, rows.Err()
}

// Close closes the database.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
