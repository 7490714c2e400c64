package harness

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
	"github.com/roach88/bugdw/internal/source"
)

// errInjected is returned by every injected failure.
var errInjected = errors.New("injected failure")

// faultGateway wraps a gateway and fails the units of work selected by the
// active Faults. The engine reads a snapshot right before loading it, so
// scenarioSource.Read switches the active faults per snapshot.
type faultGateway struct {
	inner  engine.Gateway
	active *Faults
}

var (
	_ engine.Gateway = (*faultGateway)(nil)
	_ engine.Journal = (*faultGateway)(nil)
)

func (g *faultGateway) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := g.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultTx{Tx: tx, faults: g.active}, nil
}

func (g *faultGateway) ReadDimension(ctx context.Context, dim model.Dimension) ([]model.DimensionEntry, error) {
	return g.inner.ReadDimension(ctx, dim)
}

func (g *faultGateway) ReadCalendar(ctx context.Context) ([]model.DateID, error) {
	return g.inner.ReadCalendar(ctx)
}

func (g *faultGateway) StartRun(ctx context.Context, run model.RunRecord) error {
	if j, ok := g.inner.(engine.Journal); ok {
		return j.StartRun(ctx, run)
	}
	return nil
}

func (g *faultGateway) RecordSnapshot(ctx context.Context, load model.SnapshotLoad) error {
	if j, ok := g.inner.(engine.Journal); ok {
		return j.RecordSnapshot(ctx, load)
	}
	return nil
}

func (g *faultGateway) FinishRun(ctx context.Context, run model.RunRecord) error {
	if j, ok := g.inner.(engine.Journal); ok {
		return j.FinishRun(ctx, run)
	}
	return nil
}

// faultTx fails the selected writes. The loaders then roll back exactly as
// they would on a database error.
type faultTx struct {
	engine.Tx
	faults *Faults
}

func (tx *faultTx) InsertDimension(ctx context.Context, dim model.Dimension, entries []model.DimensionEntry) error {
	if tx.faults != nil {
		for _, name := range tx.faults.Dimensions {
			if name == dim.Name {
				return errInjected
			}
		}
	}
	return tx.Tx.InsertDimension(ctx, dim, entries)
}

func (tx *faultTx) MergeCalendar(ctx context.Context, entries []model.CalendarEntry) (int64, error) {
	if tx.faults != nil && tx.faults.Calendar {
		return 0, errInjected
	}
	return tx.Tx.MergeCalendar(ctx, entries)
}

func (tx *faultTx) InsertFacts(ctx context.Context, facts []model.FactRecord) (int64, error) {
	if tx.faults != nil && tx.faults.Facts {
		return 0, errInjected
	}
	return tx.Tx.InsertFacts(ctx, facts)
}

// scenarioSource is a snapshot from a scenario. Read parses the CSV through
// the production cleaning path and arms the snapshot's faults.
type scenarioSource struct {
	gw   *faultGateway
	name string
	date time.Time
	csv  func() (model.Snapshot, error)
	fail *Faults
}

func (s *scenarioSource) Name() string    { return s.name }
func (s *scenarioSource) Date() time.Time { return s.date }

func (s *scenarioSource) Read() (model.Snapshot, error) {
	s.gw.active = s.fail
	if s.fail != nil && s.fail.Read {
		return model.Snapshot{}, errInjected
	}
	snap, err := s.csv()
	if err != nil {
		return model.Snapshot{}, err
	}
	snap.SourceFile = s.name
	return snap, nil
}

// sources builds the engine sources of one run step.
func (s *Scenario) sources(gw *faultGateway, step RunStep) []engine.SnapshotSource {
	out := make([]engine.SnapshotSource, 0, len(step.Snapshots))
	for _, snap := range step.Snapshots {
		id, _ := model.ParseDateID(snap.Date)
		date := id.Time()
		name := snap.File
		if name == "" {
			name = source.DefaultPrefix + "-" + snap.Date + ".csv"
		}

		src := &scenarioSource{gw: gw, name: name, date: date, fail: snap.Fail}
		if snap.CSVFile != "" {
			path := s.resolve(snap.CSVFile)
			src.csv = func() (model.Snapshot, error) { return source.ReadSnapshot(path, date) }
		} else {
			content := snap.CSV
			src.csv = func() (model.Snapshot, error) { return source.Parse(strings.NewReader(content), date) }
		}
		out = append(out, src)
	}
	return out
}
