package pgstore

import (
	"context"
	"fmt"

	"github.com/roach88/bugdw/internal/model"
)

// StartRun records the start of a run.
func (s *Store) StartRun(ctx context.Context, run model.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO etl_runs (run_id, started_at)
		VALUES ($1, $2)
		ON CONFLICT (run_id) DO NOTHING
	`, run.ID, run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordSnapshot records the outcome of one snapshot within a run.
func (s *Store) RecordSnapshot(ctx context.Context, load model.SnapshotLoad) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO etl_snapshot_loads
		(run_id, source_file, snapshot_date, status, closed, inserted, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, load.RunID, load.SourceFile, int64(load.SnapshotDate), string(load.Status),
		load.Closed, load.Inserted, load.Error)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run model.RunRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE etl_runs
		SET finished_at = $1, snapshots = $2, failures = $3
		WHERE run_id = $4
	`, run.FinishedAt, run.Snapshots, run.Failures, run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: run %s not started", run.ID)
	}
	return nil
}
