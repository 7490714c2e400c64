package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/bugdw/internal/model"
)

// FactResult reports one snapshot's fact load.
type FactResult struct {
	Snapshot   model.DateID `json:"snapshot"`
	Closed     int64        `json:"closed"`
	Inserted   int64        `json:"inserted"`
	Duplicates int          `json:"duplicates"` // Extra rows for an already-seen bug id, ignored
	Skipped    bool         `json:"skipped"`    // Snapshot was already loaded
}

// FactLoader applies SCD2 versioning to the fact table.
//
// Per bug id the lifecycle is NO_HISTORY -> CURRENT -> HISTORICAL. A snapshot
// that contains a bug closes the bug's current row (snapshot_end = day before
// the snapshot) and inserts one new current row. Bugs absent from a snapshot
// are left untouched.
type FactLoader struct {
	gw     Gateway
	reg    *Registry
	logger *slog.Logger
}

// NewFactLoader creates a fact loader resolving keys through reg.
func NewFactLoader(gw Gateway, reg *Registry, logger *slog.Logger) *FactLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactLoader{gw: gw, reg: reg, logger: logger}
}

// Load runs the close step and the insert step for one snapshot in a single
// transaction. Any failure rolls both back, leaving the previous versions
// current, and is returned as a *LoadError.
//
// A snapshot whose facts are already present is skipped without writes.
// A snapshot older than the newest loaded one is rejected with ErrOutOfOrder.
func (l *FactLoader) Load(ctx context.Context, snap model.Snapshot) (FactResult, error) {
	start := snap.DateID()
	res := FactResult{Snapshot: start}

	fail := func(code LoadErrorCode, err error) (FactResult, error) {
		return res, &LoadError{Code: code, Snapshot: start, SourceFile: snap.SourceFile, Err: err}
	}

	// snapshot_start and snapshot_end are validity bounds, not attributes:
	// they cannot fall back to the sentinel.
	for _, id := range []model.DateID{start, snap.EndDateID()} {
		if !l.reg.HasDate(id) {
			return fail(ErrCodeFact, fmt.Errorf("calendar has no row for %s", id))
		}
	}

	facts, dups := l.Resolve(snap)
	res.Duplicates = dups
	if dups > 0 {
		l.logger.Warn("duplicate bug ids in snapshot, keeping first occurrence",
			"snapshot", start, "duplicates", dups)
	}

	tx, err := l.gw.Begin(ctx)
	if err != nil {
		return fail(ErrCodeFact, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	loaded, err := tx.SnapshotLoaded(ctx, start)
	if err != nil {
		return fail(ErrCodeFact, fmt.Errorf("check snapshot: %w", err))
	}
	if loaded {
		res.Skipped = true
		l.logger.Info("snapshot already loaded, skipping facts", "snapshot", start)
		return res, nil
	}

	latest, err := tx.LatestSnapshot(ctx)
	if err != nil {
		return fail(ErrCodeFact, fmt.Errorf("latest snapshot: %w", err))
	}
	if latest > start {
		return fail(ErrCodeOutOfOrder, fmt.Errorf("%w: %s < %s", ErrOutOfOrder, start, latest))
	}

	if len(facts) == 0 {
		l.logger.Info("empty snapshot, no facts to load", "snapshot", start)
		return res, nil
	}

	bugIDs := make([]int64, len(facts))
	for i, f := range facts {
		bugIDs[i] = f.BugID
	}

	closed, err := tx.CloseCurrent(ctx, bugIDs, snap.EndDateID())
	if err != nil {
		return fail(ErrCodeFact, fmt.Errorf("close current rows: %w", err))
	}

	inserted, err := tx.InsertFacts(ctx, facts)
	if err != nil {
		return fail(ErrCodeFact, fmt.Errorf("insert %d facts: %w", len(facts), err))
	}

	if err := tx.Commit(); err != nil {
		return fail(ErrCodeFact, fmt.Errorf("commit: %w", err))
	}

	res.Closed = closed
	res.Inserted = inserted
	l.logger.Info("facts loaded", "snapshot", start, "closed", closed, "inserted", inserted)
	return res, nil
}

// Resolve translates the snapshot rows into current fact records, one per
// bug id (first occurrence wins). Unknown natural keys and dates resolve to
// the sentinels. Returns the records and the number of dropped duplicates.
func (l *FactLoader) Resolve(snap model.Snapshot) ([]model.FactRecord, int) {
	start := snap.DateID()
	seen := make(map[int64]struct{}, len(snap.Rows))
	facts := make([]model.FactRecord, 0, len(snap.Rows))
	dups := 0

	for _, r := range snap.Rows {
		if _, ok := seen[r.BugID]; ok {
			dups++
			continue
		}
		seen[r.BugID] = struct{}{}

		res := func(d model.Dimension, parts ...string) int64 {
			return l.reg.Resolve(d, model.Key(parts...))
		}
		facts = append(facts, model.FactRecord{
			BugID:             r.BugID,
			SnapshotStart:     start,
			IsCurrent:         true,
			Summary:           r.Summary,
			DateSubmittedID:   l.reg.ResolveDate(r.Submitted),
			DateUpdatedID:     l.reg.ResolveDate(r.Updated),
			ProjectID:         res(model.DimProject, r.Project),
			ReporterID:        res(model.DimUser, r.Reporter),
			AssigneeID:        res(model.DimUser, r.AssignedTo),
			PriorityID:        res(model.DimPriority, r.Priority),
			SeverityID:        res(model.DimSeverity, r.Severity),
			ReproducibilityID: res(model.DimReproducibility, r.Reproducibility),
			ProductVersionID:  res(model.DimVersion, r.ProductVersion),
			FixedVersionID:    res(model.DimVersion, r.FixedInVersion),
			CategoryID:        res(model.DimCategory, r.Category),
			OSID:              res(model.DimOS, r.Platform, r.OS, r.OSVersion),
			ViewStatusID:      res(model.DimStatus, r.ViewStatus),
			StatusID:          res(model.DimStatus, r.Status),
			ResolutionID:      res(model.DimStatus, r.Resolution),
		})
	}
	return facts, dups
}
