package model

// DimensionCount is the row count of one dimension table, sentinel included.
type DimensionCount struct {
	Dimension string `json:"dimension"`
	Table     string `json:"table"`
	Rows      int64  `json:"rows"`
}

// FactCounts summarizes the fact table.
type FactCounts struct {
	Bugs       int64  `json:"bugs"`
	Current    int64  `json:"current"`
	Historical int64  `json:"historical"`
	Snapshots  int64  `json:"snapshots"`
	Latest     DateID `json:"latest_snapshot"`
}

// BugVersion is one SCD2 version of a bug with its attributes resolved to
// natural values.
type BugVersion struct {
	BugID         int64   `json:"bug_id"`
	SnapshotStart DateID  `json:"snapshot_start"`
	SnapshotEnd   *DateID `json:"snapshot_end"`
	IsCurrent     bool    `json:"is_current"`
	Summary       string  `json:"summary"`
	Project       string  `json:"project"`
	Reporter      string  `json:"reporter"`
	Assignee      string  `json:"assignee"`
	Priority      string  `json:"priority"`
	Severity      string  `json:"severity"`
	Status        string  `json:"status"`
	Resolution    string  `json:"resolution"`
	FixedVersion  string  `json:"fixed_version"`
}

// RunSummary is one journal row with its per-status snapshot counts.
type RunSummary struct {
	RunRecord
	Loaded  int `json:"loaded"`
	Partial int `json:"partial"`
	Skipped int `json:"skipped"`
}
