package model

import "time"

// LoadStatus is the outcome of one snapshot within a run.
type LoadStatus string

const (
	// StatusLoaded means every unit of work for the snapshot committed.
	StatusLoaded LoadStatus = "loaded"

	// StatusPartial means the facts committed but at least one dimension
	// delta rolled back; affected fact columns resolved to the sentinel.
	StatusPartial LoadStatus = "partial"

	// StatusSkipped means the snapshot's facts were already loaded.
	StatusSkipped LoadStatus = "skipped"

	// StatusFailed means the fact load rolled back; the snapshot is a gap
	// in history.
	StatusFailed LoadStatus = "failed"
)

// RunRecord is one row of the run journal.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Snapshots  int        `json:"snapshots"`
	Failures   int        `json:"failures"`
}

// SnapshotLoad is the journal entry for one snapshot processed by a run.
type SnapshotLoad struct {
	RunID        string     `json:"run_id"`
	SourceFile   string     `json:"source_file"`
	SnapshotDate DateID     `json:"snapshot_date"`
	Status       LoadStatus `json:"status"`
	Closed       int64      `json:"closed"`
	Inserted     int64      `json:"inserted"`
	Error        string     `json:"error,omitempty"`
}
