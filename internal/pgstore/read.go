package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/bugdw/internal/model"
)

// DimensionCounts returns row counts for every dimension and the calendar.
func (s *Store) DimensionCounts(ctx context.Context) ([]model.DimensionCount, error) {
	counts := make([]model.DimensionCount, 0, len(model.Dimensions)+1)
	add := func(name, table string) error {
		var n int64
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		counts = append(counts, model.DimensionCount{Dimension: name, Table: table, Rows: n})
		return nil
	}
	for _, dim := range model.Dimensions {
		if err := add(dim.Name, dim.Table); err != nil {
			return nil, err
		}
	}
	if err := add("calendar", "dim_calendar"); err != nil {
		return nil, err
	}
	return counts, nil
}

// FactCounts returns current/historical row counts and snapshot coverage.
func (s *Store) FactCounts(ctx context.Context) (model.FactCounts, error) {
	var c model.FactCounts
	var latest int64
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT bug_id),
			COUNT(*) FILTER (WHERE is_current),
			COUNT(*) FILTER (WHERE NOT is_current),
			COUNT(DISTINCT snapshot_start),
			COALESCE(MAX(snapshot_start), 0)
		FROM fact_bug
	`).Scan(&c.Bugs, &c.Current, &c.Historical, &c.Snapshots, &latest)
	if err != nil {
		return model.FactCounts{}, fmt.Errorf("fact counts: %w", err)
	}
	c.Latest = model.DateID(latest)
	return c, nil
}

// BugHistory returns every version of a bug, oldest first.
func (s *Store) BugHistory(ctx context.Context, bugID int64) ([]model.BugVersion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			f.bug_id, f.snapshot_start, f.snapshot_end, f.is_current, f.summary,
			COALESCE(p.project_name, 'Unknown'),
			COALESCE(r.username, 'Unknown'),
			COALESCE(a.username, 'Unknown'),
			COALESCE(pr.priority_name, 'Unknown'),
			COALESCE(sv.severity_name, 'Unknown'),
			COALESCE(st.status_name, 'Unknown'),
			COALESCE(rs.status_name, 'Unknown'),
			COALESCE(fv.version_name, 'Unknown')
		FROM fact_bug f
		LEFT JOIN dim_project p   ON p.project_id = f.project_id
		LEFT JOIN dim_user r      ON r.user_id = f.reporter_id
		LEFT JOIN dim_user a      ON a.user_id = f.assignee_id
		LEFT JOIN dim_priority pr ON pr.priority_id = f.priority_id
		LEFT JOIN dim_severity sv ON sv.severity_id = f.severity_id
		LEFT JOIN dim_status st   ON st.status_id = f.status_id
		LEFT JOIN dim_status rs   ON rs.status_id = f.resolution_id
		LEFT JOIN dim_version fv  ON fv.version_id = f.fixed_version_id
		WHERE f.bug_id = $1
		ORDER BY f.snapshot_start ASC
	`, bugID)
	if err != nil {
		return nil, fmt.Errorf("query bug history: %w", err)
	}
	versions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BugVersion, error) {
		var v model.BugVersion
		var start int64
		var end *int64
		err := row.Scan(&v.BugID, &start, &end, &v.IsCurrent, &v.Summary,
			&v.Project, &v.Reporter, &v.Assignee, &v.Priority, &v.Severity,
			&v.Status, &v.Resolution, &v.FixedVersion)
		v.SnapshotStart = model.DateID(start)
		if end != nil {
			e := model.DateID(*end)
			v.SnapshotEnd = &e
		}
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan bug history: %w", err)
	}
	if versions == nil {
		versions = []model.BugVersion{}
	}
	return versions, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			r.run_id, r.started_at, r.finished_at, r.snapshots, r.failures,
			COUNT(*) FILTER (WHERE l.status = 'loaded'),
			COUNT(*) FILTER (WHERE l.status = 'partial'),
			COUNT(*) FILTER (WHERE l.status = 'skipped')
		FROM etl_runs r
		LEFT JOIN etl_snapshot_loads l ON l.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC, r.run_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RunSummary, error) {
		var r model.RunSummary
		err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Snapshots, &r.Failures,
			&r.Loaded, &r.Partial, &r.Skipped)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	return runs, nil
}
