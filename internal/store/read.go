package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/bugdw/internal/model"
)

// DimensionCounts returns row counts for every dimension and the calendar,
// in load order.
func (s *Store) DimensionCounts(ctx context.Context) ([]model.DimensionCount, error) {
	counts := make([]model.DimensionCount, 0, len(model.Dimensions)+1)
	for _, dim := range model.Dimensions {
		n, err := s.count(ctx, dim.Table)
		if err != nil {
			return nil, err
		}
		counts = append(counts, model.DimensionCount{Dimension: dim.Name, Table: dim.Table, Rows: n})
	}
	n, err := s.count(ctx, "dim_calendar")
	if err != nil {
		return nil, err
	}
	counts = append(counts, model.DimensionCount{Dimension: "calendar", Table: "dim_calendar", Rows: n})
	return counts, nil
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// FactCounts returns current/historical row counts and snapshot coverage.
func (s *Store) FactCounts(ctx context.Context) (model.FactCounts, error) {
	var c model.FactCounts
	var latest int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT bug_id),
			COALESCE(SUM(is_current), 0),
			COUNT(*) - COALESCE(SUM(is_current), 0),
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
// Keys missing from a dimension table read as "Unknown".
// Returns an empty slice (not nil) for an unknown bug.
func (s *Store) BugHistory(ctx context.Context, bugID int64) ([]model.BugVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		WHERE f.bug_id = ?
		ORDER BY f.snapshot_start ASC
	`, bugID)
	if err != nil {
		return nil, fmt.Errorf("query bug history: %w", err)
	}
	defer rows.Close()

	versions := []model.BugVersion{}
	for rows.Next() {
		var v model.BugVersion
		var start int64
		var end sql.NullInt64
		if err := rows.Scan(
			&v.BugID, &start, &end, &v.IsCurrent, &v.Summary,
			&v.Project, &v.Reporter, &v.Assignee, &v.Priority, &v.Severity,
			&v.Status, &v.Resolution, &v.FixedVersion,
		); err != nil {
			return nil, fmt.Errorf("scan bug history: %w", err)
		}
		v.SnapshotStart = model.DateID(start)
		if end.Valid {
			e := model.DateID(end.Int64)
			v.SnapshotEnd = &e
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bug history: %w", err)
	}
	return versions, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			r.run_id, r.started_at, r.finished_at, r.snapshots, r.failures,
			COUNT(CASE WHEN l.status = 'loaded' THEN 1 END),
			COUNT(CASE WHEN l.status = 'partial' THEN 1 END),
			COUNT(CASE WHEN l.status = 'skipped' THEN 1 END)
		FROM etl_runs r
		LEFT JOIN etl_snapshot_loads l ON l.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC, r.run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RunSummary{}
	for rows.Next() {
		var r model.RunSummary
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &started, &finished, &r.Snapshots, &r.Failures,
			&r.Loaded, &r.Partial, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: finished_at: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListSnapshotLoads returns the journal entries of one run in processing order.
func (s *Store) ListSnapshotLoads(ctx context.Context, runID string) ([]model.SnapshotLoad, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source_file, snapshot_date, status, closed, inserted, error
		FROM etl_snapshot_loads
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshot loads: %w", err)
	}
	defer rows.Close()

	loads := []model.SnapshotLoad{}
	for rows.Next() {
		var l model.SnapshotLoad
		var date int64
		var status string
		if err := rows.Scan(&l.RunID, &l.SourceFile, &date, &status, &l.Closed, &l.Inserted, &l.Error); err != nil {
			return nil, fmt.Errorf("scan snapshot load: %w", err)
		}
		l.SnapshotDate = model.DateID(date)
		l.Status = model.LoadStatus(status)
		loads = append(loads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot loads: %w", err)
	}
	return loads, nil
}

// Dump writes every dimension, the calendar and the fact table as
// tab-separated text in key order. The journal is excluded: it carries wall
// clock times. Text is NFC-normalized so equal warehouses dump byte-equal.
func (s *Store) Dump(ctx context.Context, w io.Writer) error {
	for _, dim := range model.Dimensions {
		entries, err := s.ReadDimension(ctx, dim)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "# %s\n", dim.Table)
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\n", e.Key, nfc(strings.Join(e.Natural, "\t")))
		}
	}

	ids, err := s.ReadCalendar(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "# dim_calendar")
	for _, id := range ids {
		fmt.Fprintf(w, "%d\t%s\n", int64(id), id.Time().Format("2006-01-02"))
	}

	fmt.Fprintln(w, "# fact_bug")
	fmt.Fprintln(w, strings.Join(model.FactColumns, "\t"))
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM fact_bug ORDER BY bug_id ASC, snapshot_start ASC",
		strings.Join(model.FactColumns, ", "),
	))
	if err != nil {
		return fmt.Errorf("dump fact_bug: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return fmt.Errorf("dump fact_bug: %w", err)
		}
		vals := f.Values()
		cells := make([]string, len(vals))
		for i, v := range vals {
			switch v := v.(type) {
			case nil:
				cells[i] = "-"
			case bool:
				if v {
					cells[i] = "1"
				} else {
					cells[i] = "0"
				}
			case string:
				cells[i] = nfc(v)
			default:
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate fact_bug: %w", err)
	}
	return nil
}

func scanFact(rows *sql.Rows) (model.FactRecord, error) {
	var f model.FactRecord
	var start, submitted, updated int64
	var end sql.NullInt64
	err := rows.Scan(
		&f.BugID, &start, &end, &f.IsCurrent, &f.Summary, &submitted, &updated,
		&f.ProjectID, &f.ReporterID, &f.AssigneeID, &f.PriorityID, &f.SeverityID,
		&f.ReproducibilityID, &f.ProductVersionID, &f.FixedVersionID, &f.CategoryID,
		&f.OSID, &f.ViewStatusID, &f.StatusID, &f.ResolutionID,
	)
	if err != nil {
		return model.FactRecord{}, err
	}
	f.SnapshotStart = model.DateID(start)
	f.DateSubmittedID = model.DateID(submitted)
	f.DateUpdatedID = model.DateID(updated)
	if end.Valid {
		e := model.DateID(end.Int64)
		f.SnapshotEnd = &e
	}
	return f, nil
}

func nfc(s string) string {
	return norm.NFC.String(s)
}
