package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/bugdw/internal/model"
)

// DimensionResult reports one dimension load.
type DimensionResult struct {
	Dimension string                 `json:"dimension"`
	Inserted  []model.DimensionEntry `json:"inserted"`
}

// DimensionLoader assigns surrogate keys to unseen natural keys and persists
// only the delta.
type DimensionLoader struct {
	gw     Gateway
	reg    *Registry
	logger *slog.Logger
}

// NewDimensionLoader creates a loader writing through gw and assigning keys
// from reg.
func NewDimensionLoader(gw Gateway, reg *Registry, logger *slog.Logger) *DimensionLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &DimensionLoader{gw: gw, reg: reg, logger: logger}
}

// LoadSimple loads single-attribute values into a dimension of arity 1.
func (l *DimensionLoader) LoadSimple(ctx context.Context, dim model.Dimension, values []string) (DimensionResult, error) {
	if dim.Arity() != 1 {
		return DimensionResult{Dimension: dim.Name}, newDimensionError(dim, fmt.Errorf("simple load on dimension of arity %d", dim.Arity()))
	}
	keys := make([]model.NaturalKey, len(values))
	for i, v := range values {
		keys[i] = model.Key(v)
	}
	return l.Load(ctx, dim, keys)
}

// LoadComposite loads tuple keys. A tuple is new unless every component
// matches an existing key.
func (l *DimensionLoader) LoadComposite(ctx context.Context, dim model.Dimension, tuples []model.NaturalKey) (DimensionResult, error) {
	for _, k := range tuples {
		if len(k) != dim.Arity() {
			return DimensionResult{Dimension: dim.Name}, newDimensionError(dim, fmt.Errorf("tuple %v has %d components, want %d", []string(k), len(k), dim.Arity()))
		}
	}
	return l.Load(ctx, dim, tuples)
}

// Load runs one dimension delta:
//  1. ensure the sentinel row exists (insert-if-absent)
//  2. plan new keys in sorted natural-key order
//  3. write the delta in one transaction
//  4. publish the delta to the registry only after commit
//
// When every key is already known and the sentinel is known to be persisted,
// no transaction is opened. On failure nothing is published and the returned
// error is a *LoadError.
func (l *DimensionLoader) Load(ctx context.Context, dim model.Dimension, keys []model.NaturalKey) (DimensionResult, error) {
	res := DimensionResult{Dimension: dim.Name}

	delta := l.reg.Plan(dim, keys)
	if len(delta) == 0 && l.reg.sentinelStored(dim) {
		l.logger.Debug("dimension unchanged", "dimension", dim.Name)
		return res, nil
	}

	tx, err := l.gw.Begin(ctx)
	if err != nil {
		return res, newDimensionError(dim, fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	if err := tx.EnsureSentinel(ctx, dim); err != nil {
		return res, newDimensionError(dim, fmt.Errorf("ensure sentinel: %w", err))
	}

	if len(delta) > 0 {
		if err := tx.InsertDimension(ctx, dim, delta); err != nil {
			return res, newDimensionError(dim, fmt.Errorf("insert %d rows: %w", len(delta), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return res, newDimensionError(dim, fmt.Errorf("commit: %w", err))
	}

	if err := l.reg.Apply(dim, delta); err != nil {
		return res, newDimensionError(dim, fmt.Errorf("publish: %w", err))
	}
	l.reg.table(dim).sentinelStored = true

	res.Inserted = delta
	l.logger.Info("dimension loaded", "dimension", dim.Name, "new_rows", len(delta))
	return res, nil
}
