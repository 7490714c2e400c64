package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
)

// maxRowsPerInsert bounds multi-row VALUES lists below SQLite's host
// parameter limit.
const maxRowsPerInsert = 400

// Tx is one unit of work against the warehouse. It implements engine.Tx.
type Tx struct {
	tx *sql.Tx
}

var _ engine.Tx = (*Tx)(nil)

// Commit commits the unit of work.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the unit of work. Rollback after Commit is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// EnsureSentinel inserts the Unknown row of dim if it is absent.
func (t *Tx) EnsureSentinel(ctx context.Context, dim model.Dimension) error {
	query, args := insertDimensionSQL(dim, []model.DimensionEntry{
		{Key: model.UnknownKey, Natural: dim.Sentinel()},
	})
	if _, err := t.tx.ExecContext(ctx, query+" ON CONFLICT DO NOTHING", args...); err != nil {
		return fmt.Errorf("ensure %s sentinel: %w", dim.Table, err)
	}
	return nil
}

// InsertDimension inserts new dimension rows. Any key collision is an error.
func (t *Tx) InsertDimension(ctx context.Context, dim model.Dimension, entries []model.DimensionEntry) error {
	for start := 0; start < len(entries); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(entries))
		query, args := insertDimensionSQL(dim, entries[start:end])
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", dim.Table, err)
		}
	}
	return nil
}

func insertDimensionSQL(dim model.Dimension, entries []model.DimensionEntry) (string, []any) {
	cols := append([]string{dim.KeyColumn}, dim.Columns...)
	row := "(" + placeholders(len(cols)) + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", dim.Table, strings.Join(cols, ", "))
	args := make([]any, 0, len(entries)*len(cols))
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		args = append(args, e.Key)
		for _, part := range e.Natural {
			args = append(args, part)
		}
	}
	return b.String(), args
}

// EnsureCalendarSentinel inserts the 1900-01-01 calendar row if it is absent.
func (t *Tx) EnsureCalendarSentinel(ctx context.Context) error {
	e := model.UnknownCalendarEntry()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO dim_calendar (date_id, full_date, day, month, year)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date_id) DO NOTHING
	`, int64(e.ID), e.Date.Format(time.DateOnly), e.Day, e.Month, e.Year)
	if err != nil {
		return fmt.Errorf("ensure calendar sentinel: %w", err)
	}
	return nil
}

// MergeCalendar stages entries and inserts those whose date_id is absent.
// Returns the number of rows inserted.
func (t *Tx) MergeCalendar(ctx context.Context, entries []model.CalendarEntry) (inserted int64, err error) {
	if _, err := t.tx.ExecContext(ctx, `
		CREATE TEMP TABLE stage_calendar (
			date_id   INTEGER NOT NULL,
			full_date TEXT NOT NULL,
			day       INTEGER NOT NULL,
			month     INTEGER NOT NULL,
			year      INTEGER NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("create calendar staging: %w", err)
	}
	defer func() {
		if _, dropErr := t.tx.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS temp.stage_calendar"); dropErr != nil && err == nil {
			err = fmt.Errorf("drop calendar staging: %w", dropErr)
		}
	}()

	for start := 0; start < len(entries); start += maxRowsPerInsert {
		batch := entries[start:min(start+maxRowsPerInsert, len(entries))]
		var b strings.Builder
		b.WriteString("INSERT INTO temp.stage_calendar (date_id, full_date, day, month, year) VALUES ")
		args := make([]any, 0, len(batch)*5)
		for i, e := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, int64(e.ID), e.Date.Format(time.DateOnly), e.Day, e.Month, e.Year)
		}
		if _, err := t.tx.ExecContext(ctx, b.String(), args...); err != nil {
			return 0, fmt.Errorf("stage calendar: %w", err)
		}
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO dim_calendar (date_id, full_date, day, month, year)
		SELECT DISTINCT s.date_id, s.full_date, s.day, s.month, s.year
		FROM temp.stage_calendar s
		WHERE NOT EXISTS (SELECT 1 FROM dim_calendar c WHERE c.date_id = s.date_id)
	`)
	if err != nil {
		return 0, fmt.Errorf("merge calendar: %w", err)
	}
	return res.RowsAffected()
}

// CloseCurrent ends the current row of every listed bug at end.
// Returns the number of rows closed.
func (t *Tx) CloseCurrent(ctx context.Context, bugIDs []int64, end model.DateID) (closed int64, err error) {
	if _, err := t.tx.ExecContext(ctx, "CREATE TEMP TABLE stage_bug_ids (bug_id INTEGER PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("create bug id staging: %w", err)
	}
	defer func() {
		if _, dropErr := t.tx.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS temp.stage_bug_ids"); dropErr != nil && err == nil {
			err = fmt.Errorf("drop bug id staging: %w", dropErr)
		}
	}()

	for start := 0; start < len(bugIDs); start += maxRowsPerInsert {
		batch := bugIDs[start:min(start+maxRowsPerInsert, len(bugIDs))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := "INSERT OR IGNORE INTO temp.stage_bug_ids (bug_id) VALUES " +
			strings.TrimSuffix(strings.Repeat("(?), ", len(batch)), ", ")
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("stage bug ids: %w", err)
		}
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE fact_bug
		SET is_current = 0, snapshot_end = ?
		WHERE is_current = 1
		  AND bug_id IN (SELECT bug_id FROM temp.stage_bug_ids)
	`, int64(end))
	if err != nil {
		return 0, fmt.Errorf("close current rows: %w", err)
	}
	return res.RowsAffected()
}

// InsertFacts appends fact rows. A second current row for a bug violates
// idx_fact_bug_current and fails the call.
func (t *Tx) InsertFacts(ctx context.Context, facts []model.FactRecord) (int64, error) {
	var inserted int64
	row := "(" + placeholders(len(model.FactColumns)) + ")"
	for start := 0; start < len(facts); start += maxRowsPerInsert / 10 {
		batch := facts[start:min(start+maxRowsPerInsert/10, len(facts))]

		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO fact_bug (%s) VALUES ", strings.Join(model.FactColumns, ", "))
		args := make([]any, 0, len(batch)*len(model.FactColumns))
		for i, f := range batch {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(row)
			args = append(args, f.Values()...)
		}

		res, err := t.tx.ExecContext(ctx, b.String(), args...)
		if err != nil {
			return inserted, fmt.Errorf("insert facts: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert facts: %w", err)
		}
		inserted += n
	}
	return inserted, nil
}

// SnapshotLoaded reports whether facts starting at start exist.
func (t *Tx) SnapshotLoaded(ctx context.Context, start model.DateID) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM fact_bug WHERE snapshot_start = ?)", int64(start),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("snapshot loaded: %w", err)
	}
	return exists, nil
}

// LatestSnapshot returns the newest snapshot_start, or 0 for an empty table.
func (t *Tx) LatestSnapshot(ctx context.Context) (model.DateID, error) {
	var latest int64
	err := t.tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(snapshot_start), 0) FROM fact_bug").Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest snapshot: %w", err)
	}
	return model.DateID(latest), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
