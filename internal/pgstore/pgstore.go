// Package pgstore provides the PostgreSQL persistence gateway of the bug
// warehouse. It shares the table layout of package store.
//
// Set-based steps use COPY into a TEMP staging table followed by one
// INSERT ... SELECT or UPDATE ... FROM, so a snapshot of any size costs a
// constant number of round trips. Staging tables are created ON COMMIT DROP
// and dropped explicitly after use.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// maxConns bounds the pool. The engine is single-writer; the extra
// connections serve read models.
const maxConns = 4

// Store is the PostgreSQL persistence gateway.
// It implements engine.Gateway and engine.Journal.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ engine.Gateway = (*Store)(nil)
	_ engine.Journal = (*Store)(nil)
)

// Open connects to the database at dsn and applies the schema.
// Applying the schema is idempotent.
func Open(ctx context.Context, dsn string) (*Store, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	conf.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Pool returns the underlying pool for direct queries.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx, ctx: ctx}, nil
}

// ReadDimension returns every persisted row of dim ordered by surrogate key.
func (s *Store) ReadDimension(ctx context.Context, dim model.Dimension) ([]model.DimensionEntry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT %s, %s FROM %s ORDER BY %s ASC",
		dim.KeyColumn, strings.Join(dim.Columns, ", "), dim.Table, dim.KeyColumn,
	))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dim.Table, err)
	}
	defer rows.Close()

	entries := []model.DimensionEntry{}
	for rows.Next() {
		var key int64
		parts := make([]string, dim.Arity())
		dest := []any{&key}
		for i := range parts {
			dest = append(dest, &parts[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", dim.Table, err)
		}
		entries = append(entries, model.DimensionEntry{Key: key, Natural: model.Key(parts...)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", dim.Table, err)
	}
	return entries, nil
}

// ReadCalendar returns every persisted date_id.
func (s *Store) ReadCalendar(ctx context.Context) ([]model.DateID, error) {
	rows, err := s.pool.Query(ctx, "SELECT date_id FROM dim_calendar ORDER BY date_id ASC")
	if err != nil {
		return nil, fmt.Errorf("read dim_calendar: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DateID, error) {
		var id int64
		err := row.Scan(&id)
		return model.DateID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("read dim_calendar: %w", err)
	}
	if ids == nil {
		ids = []model.DateID{}
	}
	return ids, nil
}

// Tx is one unit of work. It implements engine.Tx.
type Tx struct {
	tx pgx.Tx
	// ctx is the context the tx was started with; Commit and Rollback take
	// no context in the engine contract.
	ctx context.Context
}

var _ engine.Tx = (*Tx)(nil)

// Commit commits the unit of work.
func (t *Tx) Commit() error {
	return t.tx.Commit(t.ctx)
}

// Rollback aborts the unit of work. Rollback after Commit is a no-op.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback(context.WithoutCancel(t.ctx))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// EnsureSentinel inserts the Unknown row of dim if it is absent.
func (t *Tx) EnsureSentinel(ctx context.Context, dim model.Dimension) error {
	cols := append([]string{dim.KeyColumn}, dim.Columns...)
	args := []any{model.UnknownKey}
	for _, part := range dim.Sentinel() {
		args = append(args, part)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		dim.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("ensure %s sentinel: %w", dim.Table, err)
	}
	return nil
}

// InsertDimension copies new dimension rows. Any key collision is an error.
func (t *Tx) InsertDimension(ctx context.Context, dim model.Dimension, entries []model.DimensionEntry) error {
	cols := append([]string{dim.KeyColumn}, dim.Columns...)
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{dim.Table}, cols,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			row := []any{entries[i].Key}
			for _, part := range entries[i].Natural {
				row = append(row, part)
			}
			return row, nil
		}))
	if err != nil {
		return fmt.Errorf("copy %s: %w", dim.Table, err)
	}
	return nil
}

// EnsureCalendarSentinel inserts the 1900-01-01 calendar row if it is absent.
func (t *Tx) EnsureCalendarSentinel(ctx context.Context) error {
	e := model.UnknownCalendarEntry()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dim_calendar (date_id, full_date, day, month, year)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date_id) DO NOTHING
	`, int64(e.ID), e.Date, e.Day, e.Month, e.Year)
	if err != nil {
		return fmt.Errorf("ensure calendar sentinel: %w", err)
	}
	return nil
}

var calendarColumns = []string{"date_id", "full_date", "day", "month", "year"}

// MergeCalendar stages entries with COPY and inserts those whose date_id is
// absent. Returns the number of rows inserted.
func (t *Tx) MergeCalendar(ctx context.Context, entries []model.CalendarEntry) (inserted int64, err error) {
	drop, err := t.stage(ctx, "stage_calendar", "(LIKE dim_calendar INCLUDING DEFAULTS)")
	if err != nil {
		return 0, err
	}
	defer func() {
		if dropErr := drop(); dropErr != nil && err == nil {
			err = dropErr
		}
	}()

	_, err = t.tx.CopyFrom(ctx, pgx.Identifier{"stage_calendar"}, calendarColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{int64(e.ID), e.Date, e.Day, e.Month, e.Year}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("stage calendar: %w", err)
	}

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO dim_calendar (date_id, full_date, day, month, year)
		SELECT DISTINCT ON (s.date_id) s.date_id, s.full_date, s.day, s.month, s.year
		FROM stage_calendar s
		WHERE NOT EXISTS (SELECT 1 FROM dim_calendar c WHERE c.date_id = s.date_id)
		ORDER BY s.date_id
	`)
	if err != nil {
		return 0, fmt.Errorf("merge calendar: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CloseCurrent stages bugIDs with COPY and ends their current rows at end.
func (t *Tx) CloseCurrent(ctx context.Context, bugIDs []int64, end model.DateID) (closed int64, err error) {
	drop, err := t.stage(ctx, "stage_bug_ids", "(bug_id BIGINT NOT NULL)")
	if err != nil {
		return 0, err
	}
	defer func() {
		if dropErr := drop(); dropErr != nil && err == nil {
			err = dropErr
		}
	}()

	_, err = t.tx.CopyFrom(ctx, pgx.Identifier{"stage_bug_ids"}, []string{"bug_id"},
		pgx.CopyFromSlice(len(bugIDs), func(i int) ([]any, error) {
			return []any{bugIDs[i]}, nil
		}))
	if err != nil {
		return 0, fmt.Errorf("stage bug ids: %w", err)
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE fact_bug f
		SET is_current = FALSE, snapshot_end = $1
		WHERE f.is_current
		  AND f.bug_id IN (SELECT bug_id FROM stage_bug_ids)
	`, int64(end))
	if err != nil {
		return 0, fmt.Errorf("close current rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertFacts copies fact rows into fact_bug.
func (t *Tx) InsertFacts(ctx context.Context, facts []model.FactRecord) (int64, error) {
	n, err := t.tx.CopyFrom(ctx, pgx.Identifier{"fact_bug"}, model.FactColumns,
		pgx.CopyFromSlice(len(facts), func(i int) ([]any, error) {
			return facts[i].Values(), nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copy facts: %w", err)
	}
	return n, nil
}

// SnapshotLoaded reports whether facts starting at start exist.
func (t *Tx) SnapshotLoaded(ctx context.Context, start model.DateID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM fact_bug WHERE snapshot_start = $1)", int64(start),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("snapshot loaded: %w", err)
	}
	return exists, nil
}

// LatestSnapshot returns the newest snapshot_start, or 0 for an empty table.
func (t *Tx) LatestSnapshot(ctx context.Context) (model.DateID, error) {
	var latest int64
	if err := t.tx.QueryRow(ctx, "SELECT COALESCE(MAX(snapshot_start), 0) FROM fact_bug").Scan(&latest); err != nil {
		return 0, fmt.Errorf("latest snapshot: %w", err)
	}
	return model.DateID(latest), nil
}

// stage creates a TEMP staging table and returns the function dropping it.
func (t *Tx) stage(ctx context.Context, name, definition string) (func() error, error) {
	if _, err := t.tx.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s %s ON COMMIT DROP", name, definition)); err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return func() error {
		if _, err := t.tx.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+name); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		return nil
	}, nil
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}
