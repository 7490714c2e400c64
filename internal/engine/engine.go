package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/bugdw/internal/model"
)

// SnapshotSource yields one snapshot on demand. Date must be known without
// reading so sources can be ordered before any of them is parsed.
type SnapshotSource interface {
	Name() string
	Date() time.Time
	Read() (model.Snapshot, error)
}

// Engine is the single-writer incremental loader.
//
// For each snapshot, in ascending date order, the engine loads every
// dimension delta, then the calendar, then the SCD2 fact pair. Each of those
// is its own unit of work: a failed dimension leaves a stale but consistent
// registry and the run continues; a failed fact load leaves a gap for that
// snapshot and the run continues. Only a failed warm start stops the run.
//
// Thread-safety: none. Run and LoadSnapshot must not be called concurrently,
// and only one engine may write to a warehouse at a time.
type Engine struct {
	gw       Gateway
	registry *Registry
	dims     *DimensionLoader
	calendar *CalendarLoader
	facts    *FactLoader
	runIDs   RunIDGenerator
	now      func() time.Time
	logger   *slog.Logger
	warm     bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRunIDGenerator sets the run id source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithClock sets the wall clock used for journal timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine writing through gw with an empty registry.
// Call WarmStart (or Run, which does it) before loading snapshots against
// a non-empty warehouse.
func New(gw Gateway, opts ...EngineOption) *Engine {
	e := &Engine{
		gw:       gw,
		registry: NewRegistry(),
		runIDs:   UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dims = NewDimensionLoader(gw, e.registry, e.logger)
	e.calendar = NewCalendarLoader(gw, e.registry, e.logger)
	e.facts = NewFactLoader(gw, e.registry, e.logger)
	return e
}

// Registry exposes the engine's registry (read access for reports and tests).
func (e *Engine) Registry() *Registry {
	return e.registry
}

// WarmStart restores the registry from every persisted dimension and the
// calendar. Safe to call more than once; later calls are no-ops.
func (e *Engine) WarmStart(ctx context.Context) error {
	if e.warm {
		return nil
	}

	for _, dim := range model.Dimensions {
		entries, err := e.gw.ReadDimension(ctx, dim)
		if err != nil {
			return &LoadError{Code: ErrCodeWarmStart, Dimension: dim.Name, Err: err}
		}
		if err := e.registry.Seed(dim, entries); err != nil {
			return &LoadError{Code: ErrCodeWarmStart, Dimension: dim.Name, Err: err}
		}
		e.logger.Debug("registry seeded", "dimension", dim.Name, "keys", len(entries))
	}

	ids, err := e.gw.ReadCalendar(ctx)
	if err != nil {
		return &LoadError{Code: ErrCodeWarmStart, Dimension: "calendar", Err: err}
	}
	e.registry.SeedDates(ids)
	e.logger.Debug("registry seeded", "dimension", "calendar", "keys", len(ids))

	e.warm = true
	return nil
}

// SnapshotReport is the outcome of one snapshot.
type SnapshotReport struct {
	SourceFile string            `json:"source_file"`
	Snapshot   model.DateID      `json:"snapshot"`
	Status     model.LoadStatus  `json:"status"`
	Dimensions []DimensionResult `json:"dimensions"`
	Calendar   CalendarResult    `json:"calendar"`
	Facts      FactResult        `json:"facts"`
	Errors     []error           `json:"-"`
}

// Err returns every error of the snapshot combined, or nil.
func (r SnapshotReport) Err() error {
	var merr *multierror.Error
	for _, err := range r.Errors {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// LoadSnapshot processes one snapshot: dimensions, calendar, facts.
// Failures are recorded in the report, never returned; the registry only
// reflects what committed.
func (e *Engine) LoadSnapshot(ctx context.Context, snap model.Snapshot) SnapshotReport {
	rep := SnapshotReport{
		SourceFile: snap.SourceFile,
		Snapshot:   snap.DateID(),
	}

	keys := snap.DimensionKeys()
	for _, dim := range model.Dimensions {
		res, err := e.dims.Load(ctx, dim, keys[dim.Name])
		if err != nil {
			e.logger.Error("dimension load rolled back", "dimension", dim.Name, "snapshot", rep.Snapshot, "error", err)
			rep.Errors = append(rep.Errors, withSnapshot(err, snap))
			continue
		}
		rep.Dimensions = append(rep.Dimensions, res)
	}

	cal, err := e.calendar.LoadSnapshot(ctx, snap)
	rep.Calendar = cal
	if err != nil {
		e.logger.Error("calendar load rolled back", "snapshot", rep.Snapshot, "error", err)
		rep.Errors = append(rep.Errors, err)
	}

	facts, err := e.facts.Load(ctx, snap)
	rep.Facts = facts
	switch {
	case err != nil:
		e.logger.Error("fact load rolled back, snapshot missing from history", "snapshot", rep.Snapshot, "error", err)
		rep.Errors = append(rep.Errors, err)
		rep.Status = model.StatusFailed
	case facts.Skipped:
		rep.Status = model.StatusSkipped
	case len(rep.Errors) > 0:
		rep.Status = model.StatusPartial
	default:
		rep.Status = model.StatusLoaded
	}
	return rep
}

// RunReport is the outcome of a run.
type RunReport struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Snapshots  []SnapshotReport `json:"snapshots"`
}

// Err combines the errors of every snapshot, or returns nil.
func (r *RunReport) Err() error {
	var merr *multierror.Error
	for i := range r.Snapshots {
		if err := r.Snapshots[i].Err(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// Failures returns the number of snapshots whose facts did not load.
func (r *RunReport) Failures() int {
	n := 0
	for _, s := range r.Snapshots {
		if s.Status == model.StatusFailed {
			n++
		}
	}
	return n
}

// Count returns the number of snapshots with the given status.
func (r *RunReport) Count(status model.LoadStatus) int {
	n := 0
	for _, s := range r.Snapshots {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Run warm-starts the registry and loads every source in ascending date
// order. The returned error is non-nil only when the run could not proceed
// (warm start failure or ctx cancellation); per-snapshot failures are in
// the report, see RunReport.Err.
func (e *Engine) Run(ctx context.Context, sources []SnapshotSource) (*RunReport, error) {
	rep := &RunReport{
		RunID:     e.runIDs.Generate(),
		StartedAt: e.now(),
	}

	if err := e.WarmStart(ctx); err != nil {
		return rep, err
	}

	ordered := make([]SnapshotSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date().Before(ordered[j].Date())
	})

	journal, _ := e.gw.(Journal)
	if journal != nil {
		if err := journal.StartRun(ctx, model.RunRecord{ID: rep.RunID, StartedAt: rep.StartedAt}); err != nil {
			e.logger.Warn("journal: start run failed", "run", rep.RunID, "error", err)
		}
	}

	e.logger.Info("run starting", "run", rep.RunID, "snapshots", len(ordered))
	for _, src := range ordered {
		if err := ctx.Err(); err != nil {
			e.finish(ctx, journal, rep)
			return rep, err
		}

		var sr SnapshotReport
		snap, err := src.Read()
		if err != nil {
			sr = SnapshotReport{
				SourceFile: src.Name(),
				Snapshot:   model.DateIDOf(src.Date()),
				Status:     model.StatusFailed,
				Errors: []error{&LoadError{
					Code:       ErrCodeRead,
					Snapshot:   model.DateIDOf(src.Date()),
					SourceFile: src.Name(),
					Err:        err,
				}},
			}
			e.logger.Error("snapshot unreadable, skipping", "file", src.Name(), "error", err)
		} else {
			e.logger.Info("loading snapshot", "file", src.Name(), "date", snap.DateID(), "rows", len(snap.Rows))
			sr = e.LoadSnapshot(ctx, snap)
		}
		rep.Snapshots = append(rep.Snapshots, sr)

		if journal != nil {
			load := model.SnapshotLoad{
				RunID:        rep.RunID,
				SourceFile:   sr.SourceFile,
				SnapshotDate: sr.Snapshot,
				Status:       sr.Status,
				Closed:       sr.Facts.Closed,
				Inserted:     sr.Facts.Inserted,
			}
			if err := sr.Err(); err != nil {
				load.Error = err.Error()
			}
			if err := journal.RecordSnapshot(ctx, load); err != nil {
				e.logger.Warn("journal: record snapshot failed", "run", rep.RunID, "file", sr.SourceFile, "error", err)
			}
		}
	}

	e.finish(ctx, journal, rep)
	e.logger.Info("run finished", "run", rep.RunID, "snapshots", len(rep.Snapshots), "failed", rep.Failures())
	return rep, nil
}

func (e *Engine) finish(ctx context.Context, journal Journal, rep *RunReport) {
	rep.FinishedAt = e.now()
	if journal == nil {
		return
	}
	finished := rep.FinishedAt
	run := model.RunRecord{
		ID:         rep.RunID,
		StartedAt:  rep.StartedAt,
		FinishedAt: &finished,
		Snapshots:  len(rep.Snapshots),
		Failures:   rep.Failures(),
	}
	// The run may have been cancelled; the journal write must still land.
	if err := journal.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Warn("journal: finish run failed", "run", rep.RunID, "error", err)
	}
}

// withSnapshot annotates a dimension error with its snapshot.
func withSnapshot(err error, snap model.Snapshot) error {
	var le *LoadError
	if errors.As(err, &le) {
		le.Snapshot = snap.DateID()
		le.SourceFile = snap.SourceFile
		return le
	}
	return fmt.Errorf("snapshot %s: %w", snap.DateID(), err)
}

// memorySource adapts an in-memory snapshot to SnapshotSource.
type memorySource struct {
	snap model.Snapshot
}

func (m memorySource) Name() string                  { return m.snap.SourceFile }
func (m memorySource) Date() time.Time               { return m.snap.SourceDate }
func (m memorySource) Read() (model.Snapshot, error) { return m.snap, nil }

// Snapshots adapts in-memory snapshots to sources.
func Snapshots(snaps ...model.Snapshot) []SnapshotSource {
	out := make([]SnapshotSource, len(snaps))
	for i, s := range snaps {
		out[i] = memorySource{snap: s}
	}
	return out
}
