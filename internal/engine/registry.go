package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/roach88/bugdw/internal/model"
)

// Registry maps natural keys to surrogate keys for every dimension and holds
// the set of known calendar keys.
//
// It is restored once per run from the gateway and is the single source of
// truth for key assignment afterwards. Mappings only grow.
//
// Thread-safety: none. The registry has a single writer; the engine
// processes snapshots sequentially and never shares it across goroutines.
//
// INVARIANTS:
//   - The all-"Unknown" key of every dimension resolves to 0
//   - Within a dimension, natural key -> surrogate key is a bijection
//   - New keys are max+1, max+2, ... and are never reused
type Registry struct {
	tables   map[string]*keyTable
	calendar map[model.DateID]struct{}

	calendarSentinelStored bool
}

type keyTable struct {
	byNatural map[string]int64
	bySK      map[int64]model.NaturalKey
	max       int64

	// sentinelStored is set once the Unknown row is known to be persisted.
	sentinelStored bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:   make(map[string]*keyTable),
		calendar: map[model.DateID]struct{}{model.UnknownDateID: {}},
	}
}

func (r *Registry) table(dim model.Dimension) *keyTable {
	t, ok := r.tables[dim.Name]
	if !ok {
		t = &keyTable{
			byNatural: map[string]int64{dim.Sentinel().String(): model.UnknownKey},
			bySK:      map[int64]model.NaturalKey{model.UnknownKey: dim.Sentinel()},
		}
		r.tables[dim.Name] = t
	}
	return t
}

// Resolve returns the surrogate key of key, or 0 when it was never seen.
func (r *Registry) Resolve(dim model.Dimension, key model.NaturalKey) int64 {
	t, ok := r.tables[dim.Name]
	if !ok {
		return model.UnknownKey
	}
	if sk, ok := t.byNatural[key.String()]; ok {
		return sk
	}
	return model.UnknownKey
}

// contains reports whether key has a surrogate key.
func (r *Registry) contains(dim model.Dimension, key model.NaturalKey) bool {
	if key.IsSentinel() {
		return true
	}
	t, ok := r.tables[dim.Name]
	if !ok {
		return false
	}
	_, ok = t.byNatural[key.String()]
	return ok
}

// register returns key's surrogate key, assigning the next one if absent.
// It mutates only the in-memory mapping; loads go through Plan and Apply so
// that keys become visible after the gateway commits them.
func (r *Registry) register(dim model.Dimension, key model.NaturalKey) int64 {
	t := r.table(dim)
	if sk, ok := t.byNatural[key.String()]; ok {
		return sk
	}
	t.max++
	t.byNatural[key.String()] = t.max
	t.bySK[t.max] = key
	return t.max
}

// Seed loads persisted entries. Entries that already match are ignored;
// entries that would break the bijection are rejected.
func (r *Registry) Seed(dim model.Dimension, entries []model.DimensionEntry) error {
	if err := r.Apply(dim, entries); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Key == model.UnknownKey {
			r.table(dim).sentinelStored = true
		}
	}
	return nil
}

func (r *Registry) sentinelStored(dim model.Dimension) bool {
	return r.table(dim).sentinelStored
}

// Plan computes the delta for keys without mutating the registry: the
// distinct keys not yet registered, in sorted natural-key order, with
// tentative surrogate keys max+1, max+2, ...
func (r *Registry) Plan(dim model.Dimension, keys []model.NaturalKey) []model.DimensionEntry {
	t := r.table(dim)

	seen := make(map[string]struct{}, len(keys))
	var fresh []model.NaturalKey
	for _, k := range keys {
		if len(k) != dim.Arity() {
			continue
		}
		s := k.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := t.byNatural[s]; ok {
			continue
		}
		fresh = append(fresh, k)
	}

	sort.Slice(fresh, func(i, j int) bool {
		return lessKey(fresh[i], fresh[j])
	})

	delta := make([]model.DimensionEntry, len(fresh))
	for i, k := range fresh {
		delta[i] = model.DimensionEntry{Key: t.max + int64(i) + 1, Natural: k}
	}
	return delta
}

// Apply makes committed entries visible. It is idempotent for entries that
// already match and fails on any conflicting mapping, leaving the registry
// unchanged.
func (r *Registry) Apply(dim model.Dimension, entries []model.DimensionEntry) error {
	t := r.table(dim)

	for _, e := range entries {
		s := e.Natural.String()
		if sk, ok := t.byNatural[s]; ok && sk != e.Key {
			return fmt.Errorf("%s: natural key %q already mapped to %d, not %d", dim.Name, []string(e.Natural), sk, e.Key)
		}
		if nk, ok := t.bySK[e.Key]; ok && nk.String() != s {
			return fmt.Errorf("%s: surrogate key %d already mapped to %q, not %q", dim.Name, e.Key, []string(nk), []string(e.Natural))
		}
		if e.Key < 0 {
			return fmt.Errorf("%s: negative surrogate key %d", dim.Name, e.Key)
		}
	}

	for _, e := range entries {
		s := e.Natural.String()
		t.byNatural[s] = e.Key
		t.bySK[e.Key] = e.Natural
		if e.Key > t.max {
			t.max = e.Key
		}
	}
	return nil
}

// Entries returns the dimension's mapping ordered by surrogate key,
// sentinel included.
func (r *Registry) Entries(dim model.Dimension) []model.DimensionEntry {
	t := r.table(dim)
	out := make([]model.DimensionEntry, 0, len(t.bySK))
	for sk, nk := range t.bySK {
		out = append(out, model.DimensionEntry{Key: sk, Natural: nk})
	}
	model.SortEntries(out)
	return out
}

// size returns the number of mapped keys, sentinel included.
func (r *Registry) size(dim model.Dimension) int {
	return len(r.table(dim).byNatural)
}

// HasDate reports whether the calendar key is known.
func (r *Registry) HasDate(id model.DateID) bool {
	_, ok := r.calendar[id]
	return ok
}

// AddDates records committed calendar keys.
func (r *Registry) AddDates(ids ...model.DateID) {
	for _, id := range ids {
		r.calendar[id] = struct{}{}
	}
}

// SeedDates loads persisted calendar keys.
func (r *Registry) SeedDates(ids []model.DateID) {
	for _, id := range ids {
		if id == model.UnknownDateID {
			r.calendarSentinelStored = true
		}
	}
	r.AddDates(ids...)
}

// ResolveDate returns the calendar key of t, or the sentinel when t is nil
// or its key is not registered.
func (r *Registry) ResolveDate(t *time.Time) model.DateID {
	if t == nil {
		return model.UnknownDateID
	}
	id := model.DateIDOf(*t)
	if !r.HasDate(id) {
		return model.UnknownDateID
	}
	return id
}

// DateCount returns the number of known calendar keys, sentinel included.
func (r *Registry) DateCount() int {
	return len(r.calendar)
}

func lessKey(a, b model.NaturalKey) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
