package harness

import (
	"bytes"
	"fmt"

	"github.com/roach88/bugdw/internal/engine"
)

// TraceEvent is the outcome of one snapshot in one run.
type TraceEvent struct {
	Run      int      `json:"run"`
	RunID    string   `json:"run_id"`
	Snapshot string   `json:"snapshot"` // YYYY-MM-DD
	File     string   `json:"file"`
	Status   string   `json:"status"`
	Closed   int64    `json:"closed"`
	Inserted int64    `json:"inserted"`
	Errors   []string `json:"errors,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists every snapshot outcome, run by run.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Dump is the canonical warehouse dump after the last run.
	Dump string `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddSnapshotTrace records one snapshot report of run n.
func (r *Result) AddSnapshotTrace(run int, runID string, sr engine.SnapshotReport) {
	ev := TraceEvent{
		Run:      run,
		RunID:    runID,
		Snapshot: sr.Snapshot.Time().Format("2006-01-02"),
		File:     sr.SourceFile,
		Status:   string(sr.Status),
		Closed:   sr.Facts.Closed,
		Inserted: sr.Facts.Inserted,
	}
	for _, err := range sr.Errors {
		ev.Errors = append(ev.Errors, err.Error())
	}
	r.Trace = append(r.Trace, ev)
}

// find returns the trace event of snapshot date in run n.
func (r *Result) find(run int, date string) (TraceEvent, bool) {
	for _, ev := range r.Trace {
		if ev.Run == run && ev.Snapshot == date {
			return ev, true
		}
	}
	return TraceEvent{}, false
}

// Golden renders the trace and the warehouse dump in the golden file
// format. Error messages are left out; statuses carry the outcome.
func (r *Result) Golden(name string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# scenario %s\n", name)
	fmt.Fprintln(&buf, "# trace")
	for _, ev := range r.Trace {
		fmt.Fprintf(&buf, "%d\t%s\t%s\t%s\tclosed=%d\tinserted=%d\n",
			ev.Run, ev.Snapshot, ev.File, ev.Status, ev.Closed, ev.Inserted)
	}
	buf.WriteString(r.Dump)
	return buf.Bytes()
}
