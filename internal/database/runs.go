package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const runColumns = `id, case_id, annotator, patch_size, status, started_at, finished_at,
	tiles_scanned, duplicates, tiles_selected, tiles_joined, patches_written, error, report_markdown`

// CreateRun inserts a running run row and returns its identifier.
func (db *DB) CreateRun(ctx context.Context, caseID, annotator string, patchSize int) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, case_id, annotator, patch_size, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, caseID, annotator, patchSize, StatusRunning, now(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: creating run: %v", ErrWrite, err)
	}
	return id, nil
}

// FinishRun records the outcome and counters of a run.
func (db *DB) FinishRun(ctx context.Context, id, status string, counts RunCounts, runErr error, report string) error {
	var errText, reportText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}
	if report != "" {
		reportText = &report
	}

	_, err := db.conn.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, tiles_scanned = ?, duplicates = ?,
		tiles_selected = ?, tiles_joined = ?, patches_written = ?, error = ?, report_markdown = ?
		WHERE id = ?`,
		status, now(), counts.TilesScanned, counts.Duplicates, counts.TilesSelected,
		counts.TilesJoined, counts.PatchesWritten, errText, reportText, id,
	)
	if err != nil {
		return fmt.Errorf("%w: finishing run %s: %v", ErrWrite, id, err)
	}
	return nil
}

// GetRun returns a single run, or nil if it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRuns returns all runs, most recent first.
func (db *DB) GetRuns() ([]Run, error) {
	rows, err := db.conn.Query("SELECT " + runColumns + " FROM runs ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM runs WHERE status = 'completed'", &s.CompletedRuns},
		{"SELECT COUNT(*) FROM runs WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(DISTINCT case_id) FROM patch_features", &s.Cases},
		{"SELECT COUNT(*) FROM patch_features", &s.PatchFeatures},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.CaseID, &r.Annotator, &r.PatchSize, &r.Status, &r.StartedAt,
		&r.FinishedAt, &r.TilesScanned, &r.Duplicates, &r.TilesSelected, &r.TilesJoined,
		&r.PatchesWritten, &r.Error, &r.ReportMarkdown); err != nil {
		return nil, err
	}
	return &r, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
