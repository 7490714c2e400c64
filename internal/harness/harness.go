package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
	"github.com/roach88/bugdw/internal/store"
	"github.com/roach88/bugdw/internal/testutil"
)

// Harness executes one scenario against one warehouse.
type Harness struct {
	store  *store.Store
	gw     *faultGateway
	clock  *testutil.DeterministicClock
	runIDs *engine.FixedGenerator
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create fresh in-memory warehouse
//  2. Execute each run with a new engine (warm start from the warehouse)
//  3. Check each run's expect clauses against its report
//  4. Evaluate assertions and dump the warehouse
//
// The returned error is non-nil only when the harness itself could not
// proceed; load failures are part of the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ids := make([]string, len(scenario.Runs))
	for i := range ids {
		ids[i] = fmt.Sprintf("run-%d", i+1)
	}

	h := &Harness{
		store:  st,
		gw:     &faultGateway{inner: st},
		clock:  testutil.NewDeterministicClock(),
		runIDs: engine.NewFixedGenerator(ids...),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	result := NewResult()
	for i, step := range scenario.Runs {
		if err := h.executeRun(ctx, scenario, i+1, step, result); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	var dump bytes.Buffer
	if err := st.Dump(ctx, &dump); err != nil {
		return nil, fmt.Errorf("failed to dump warehouse: %w", err)
	}
	result.Dump = dump.String()
	return result, nil
}

// executeRun loads one run step with a new engine and checks its expect
// clauses. A warm start failure is recorded in the result, not returned.
func (h *Harness) executeRun(ctx context.Context, scenario *Scenario, n int, step RunStep, result *Result) error {
	eng := engine.New(h.gw,
		engine.WithLogger(h.logger),
		engine.WithRunIDGenerator(h.runIDs),
		engine.WithClock(h.clock.Now),
	)

	rep, err := eng.Run(ctx, scenario.sources(h.gw, step))
	h.gw.active = nil
	if err != nil {
		if engine.IsFatal(err) {
			result.AddError(fmt.Sprintf("run %d: %v", n, err))
			return nil
		}
		return err
	}

	for _, sr := range rep.Snapshots {
		result.AddSnapshotTrace(n, rep.RunID, sr)
	}
	h.logger.Info("run completed", "run", n, "snapshots", len(rep.Snapshots), "failures", rep.Failures())

	for _, exp := range step.Expect {
		if msg := checkExpect(result, n, exp); msg != "" {
			result.AddError(msg)
		}
	}
	return nil
}

// checkExpect compares one expect clause to the trace. Returns "" on match.
func checkExpect(result *Result, run int, exp ExpectClause) string {
	id, _ := model.ParseDateID(exp.Snapshot)
	date := id.Time().Format("2006-01-02")

	ev, ok := result.find(run, date)
	if !ok {
		return fmt.Sprintf("run %d: snapshot %s not in trace", run, date)
	}
	if ev.Status != exp.Status {
		return fmt.Sprintf("run %d: snapshot %s: status = %s, want %s (errors: %v)", run, date, ev.Status, exp.Status, ev.Errors)
	}
	if exp.Closed != nil && ev.Closed != *exp.Closed {
		return fmt.Sprintf("run %d: snapshot %s: closed = %d, want %d", run, date, ev.Closed, *exp.Closed)
	}
	if exp.Inserted != nil && ev.Inserted != *exp.Inserted {
		return fmt.Sprintf("run %d: snapshot %s: inserted = %d, want %d", run, date, ev.Inserted, *exp.Inserted)
	}
	return ""
}
