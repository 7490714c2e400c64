package engine

import (
	"context"

	"github.com/roach88/bugdw/internal/model"
)

// Gateway is the only component that touches durable storage.
// Implemented by store.Store (SQLite) and pgstore.Store (PostgreSQL).
//
// Reads outside a transaction are used for the registry warm start only.
// Every mutation goes through a Tx: one Tx per dimension delta, one for the
// calendar, one for the close+insert pair of a snapshot.
type Gateway interface {
	// Begin starts a unit of work.
	Begin(ctx context.Context) (Tx, error)

	// ReadDimension returns every persisted (natural key, surrogate key) pair.
	ReadDimension(ctx context.Context, dim model.Dimension) ([]model.DimensionEntry, error)

	// ReadCalendar returns every persisted calendar key.
	ReadCalendar(ctx context.Context) ([]model.DateID, error)
}

// Tx is a unit of work. Rollback after Commit is a no-op, so callers may
// always defer Rollback.
type Tx interface {
	Commit() error
	Rollback() error

	// EnsureSentinel inserts the dimension's Unknown row if absent.
	// It must not fail when the row already exists.
	EnsureSentinel(ctx context.Context, dim model.Dimension) error

	// InsertDimension writes newly assigned dimension rows in one batch.
	InsertDimension(ctx context.Context, dim model.Dimension, entries []model.DimensionEntry) error

	// EnsureCalendarSentinel inserts the 1900-01-01 row under key 0 if absent.
	EnsureCalendarSentinel(ctx context.Context) error

	// MergeCalendar stages the candidate rows and inserts those whose
	// date_id is absent. The staging area is discarded on every path.
	// Returns the number of rows inserted.
	MergeCalendar(ctx context.Context, entries []model.CalendarEntry) (int64, error)

	// CloseCurrent flips every current fact row of the given bugs to
	// historical with snapshot_end = end, as one set-oriented statement.
	// Returns the number of rows closed.
	CloseCurrent(ctx context.Context, bugIDs []int64, end model.DateID) (int64, error)

	// InsertFacts writes the new current versions. Returns rows inserted.
	InsertFacts(ctx context.Context, facts []model.FactRecord) (int64, error)

	// SnapshotLoaded reports whether facts starting at start already exist.
	SnapshotLoaded(ctx context.Context, start model.DateID) (bool, error)

	// LatestSnapshot returns the newest snapshot_start in the fact table,
	// or model.UnknownDateID when it is empty.
	LatestSnapshot(ctx context.Context) (model.DateID, error)
}

// Journal records runs and per-snapshot outcomes. Gateways implement it
// optionally; journal failures are logged, never fatal.
type Journal interface {
	StartRun(ctx context.Context, run model.RunRecord) error
	RecordSnapshot(ctx context.Context, load model.SnapshotLoad) error
	FinishRun(ctx context.Context, run model.RunRecord) error
}
