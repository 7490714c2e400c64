package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/bugdw/internal/model"
)

// memState is the committed content of a memGateway.
type memState struct {
	dims     map[string]map[int64]string // dimension -> surrogate -> natural key string
	calendar map[model.DateID]model.CalendarEntry
	facts    []model.FactRecord
}

func (s *memState) clone() *memState {
	c := &memState{
		dims:     make(map[string]map[int64]string, len(s.dims)),
		calendar: make(map[model.DateID]model.CalendarEntry, len(s.calendar)),
		facts:    make([]model.FactRecord, len(s.facts)),
	}
	for name, rows := range s.dims {
		c.dims[name] = make(map[int64]string, len(rows))
		for k, v := range rows {
			c.dims[name][k] = v
		}
	}
	for k, v := range s.calendar {
		c.calendar[k] = v
	}
	copy(c.facts, s.facts)
	return c
}

// memGateway is an in-memory Gateway with unique constraints and fault
// injection, used to test the engine without a database.
type memGateway struct {
	state *memState

	beginErr        error
	readErr         error
	insertDimErr    map[string]error
	mergeErr        error
	closeErr        error
	insertFactsErr  error
	commits         int
	mutatingCommits int
}

func newMemGateway() *memGateway {
	return &memGateway{
		state: &memState{
			dims:     make(map[string]map[int64]string),
			calendar: make(map[model.DateID]model.CalendarEntry),
		},
		insertDimErr: make(map[string]error),
	}
}

func (g *memGateway) Begin(ctx context.Context) (Tx, error) {
	if g.beginErr != nil {
		return nil, g.beginErr
	}
	return &memTx{gw: g, state: g.state.clone()}, nil
}

func (g *memGateway) ReadDimension(ctx context.Context, dim model.Dimension) ([]model.DimensionEntry, error) {
	if g.readErr != nil {
		return nil, g.readErr
	}
	var out []model.DimensionEntry
	for k, v := range g.state.dims[dim.Name] {
		nk, err := model.ParseKey(v)
		if err != nil {
			return nil, err
		}
		out = append(out, model.DimensionEntry{Key: k, Natural: nk})
	}
	model.SortEntries(out)
	return out, nil
}

func (g *memGateway) ReadCalendar(ctx context.Context) ([]model.DateID, error) {
	if g.readErr != nil {
		return nil, g.readErr
	}
	var out []model.DateID
	for id := range g.state.calendar {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// dimension returns the committed natural keys by surrogate key, with
// tuple components joined by "|".
func (g *memGateway) dimension(name string) map[int64]string {
	rows := g.state.dims[name]
	if rows == nil {
		return nil
	}
	out := make(map[int64]string, len(rows))
	for k, v := range rows {
		nk, err := model.ParseKey(v)
		if err != nil {
			panic(err)
		}
		out[k] = strings.Join(nk, "|")
	}
	return out
}

// factsFor returns the committed fact rows of one bug, oldest first.
func (g *memGateway) factsFor(bugID int64) []model.FactRecord {
	var out []model.FactRecord
	for _, f := range g.state.facts {
		if f.BugID == bugID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotStart < out[j].SnapshotStart })
	return out
}

type memTx struct {
	gw       *memGateway
	state    *memState
	mutated  bool
	finished bool
}

func (t *memTx) Commit() error {
	if t.finished {
		return errors.New("tx already finished")
	}
	t.finished = true
	t.gw.state = t.state
	t.gw.commits++
	if t.mutated {
		t.gw.mutatingCommits++
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.finished = true
	return nil
}

func (t *memTx) rows(dim model.Dimension) map[int64]string {
	rows, ok := t.state.dims[dim.Name]
	if !ok {
		rows = make(map[int64]string)
		t.state.dims[dim.Name] = rows
	}
	return rows
}

func (t *memTx) EnsureSentinel(ctx context.Context, dim model.Dimension) error {
	rows := t.rows(dim)
	if _, ok := rows[model.UnknownKey]; !ok {
		rows[model.UnknownKey] = dim.Sentinel().String()
		t.mutated = true
	}
	return nil
}

func (t *memTx) InsertDimension(ctx context.Context, dim model.Dimension, entries []model.DimensionEntry) error {
	if err := t.gw.insertDimErr[dim.Name]; err != nil {
		return err
	}
	rows := t.rows(dim)
	for _, e := range entries {
		if _, ok := rows[e.Key]; ok {
			return fmt.Errorf("UNIQUE constraint failed: %s.%s", dim.Table, dim.KeyColumn)
		}
		for _, v := range rows {
			if v == e.Natural.String() {
				return fmt.Errorf("UNIQUE constraint failed: %s natural key", dim.Table)
			}
		}
		rows[e.Key] = e.Natural.String()
	}
	t.mutated = true
	return nil
}

func (t *memTx) EnsureCalendarSentinel(ctx context.Context) error {
	if _, ok := t.state.calendar[model.UnknownDateID]; !ok {
		t.state.calendar[model.UnknownDateID] = model.UnknownCalendarEntry()
		t.mutated = true
	}
	return nil
}

func (t *memTx) MergeCalendar(ctx context.Context, entries []model.CalendarEntry) (int64, error) {
	if t.gw.mergeErr != nil {
		return 0, t.gw.mergeErr
	}
	var n int64
	for _, e := range entries {
		if _, ok := t.state.calendar[e.ID]; ok {
			continue
		}
		t.state.calendar[e.ID] = e
		n++
	}
	if n > 0 {
		t.mutated = true
	}
	return n, nil
}

func (t *memTx) CloseCurrent(ctx context.Context, bugIDs []int64, end model.DateID) (int64, error) {
	if t.gw.closeErr != nil {
		return 0, t.gw.closeErr
	}
	ids := make(map[int64]struct{}, len(bugIDs))
	for _, id := range bugIDs {
		ids[id] = struct{}{}
	}
	var n int64
	for i := range t.state.facts {
		f := &t.state.facts[i]
		if _, ok := ids[f.BugID]; ok && f.IsCurrent {
			e := end
			f.IsCurrent = false
			f.SnapshotEnd = &e
			n++
		}
	}
	if n > 0 {
		t.mutated = true
	}
	return n, nil
}

func (t *memTx) InsertFacts(ctx context.Context, facts []model.FactRecord) (int64, error) {
	if t.gw.insertFactsErr != nil {
		return 0, t.gw.insertFactsErr
	}
	for _, f := range facts {
		for _, existing := range t.state.facts {
			if existing.BugID == f.BugID && existing.IsCurrent && f.IsCurrent {
				return 0, fmt.Errorf("UNIQUE constraint failed: fact_bug current row for bug %d", f.BugID)
			}
		}
		t.state.facts = append(t.state.facts, f)
	}
	t.mutated = true
	return int64(len(facts)), nil
}

func (t *memTx) SnapshotLoaded(ctx context.Context, start model.DateID) (bool, error) {
	for _, f := range t.state.facts {
		if f.SnapshotStart == start {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) LatestSnapshot(ctx context.Context) (model.DateID, error) {
	latest := model.UnknownDateID
	for _, f := range t.state.facts {
		if f.SnapshotStart > latest {
			latest = f.SnapshotStart
		}
	}
	return latest, nil
}

var _ Gateway = (*memGateway)(nil)
