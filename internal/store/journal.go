package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/bugdw/internal/model"
)

// StartRun records the start of a run.
func (s *Store) StartRun(ctx context.Context, run model.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO etl_runs (run_id, started_at)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`, run.ID, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordSnapshot records the outcome of one snapshot within a run.
func (s *Store) RecordSnapshot(ctx context.Context, load model.SnapshotLoad) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO etl_snapshot_loads
		(run_id, source_file, snapshot_date, status, closed, inserted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		load.RunID,
		load.SourceFile,
		int64(load.SnapshotDate),
		string(load.Status),
		load.Closed,
		load.Inserted,
		load.Error,
	)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run model.RunRecord) error {
	var finished any
	if run.FinishedAt != nil {
		finished = formatTime(*run.FinishedAt)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE etl_runs
		SET finished_at = ?, snapshots = ?, failures = ?
		WHERE run_id = ?
	`, finished, run.Snapshots, run.Failures, run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not started", run.ID)
	}
	return nil
}

// timeLayout is fixed-width so journal timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
