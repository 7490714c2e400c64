package model

import "time"

// BugRecord is one cleaned row of a bug-tracker snapshot. Categorical
// attributes are already case-folded and null-filled with Unknown.
type BugRecord struct {
	BugID           int64
	Summary         string
	Project         string
	Reporter        string
	AssignedTo      string
	Priority        string
	Severity        string
	Reproducibility string
	ProductVersion  string
	FixedInVersion  string
	Category        string
	Platform        string
	OS              string
	OSVersion       string
	ViewStatus      string
	Status          string
	Resolution      string
	Submitted       *time.Time // nil when missing or unparseable
	Updated         *time.Time // nil when missing or unparseable
}

// Snapshot is one full extract of the bug tracker as of SourceDate.
type Snapshot struct {
	SourceDate time.Time
	SourceFile string // Informational; empty for in-memory snapshots
	Rows       []BugRecord
}

// DateID returns the calendar key of the snapshot date.
func (s Snapshot) DateID() DateID {
	return DateIDOf(s.SourceDate)
}

// EndDateID returns the snapshot_end written to the rows this snapshot
// supersedes: the day before the snapshot date.
func (s Snapshot) EndDateID() DateID {
	return s.DateID().Prev()
}

// DimensionKeys collects the natural keys each dimension receives from the
// snapshot, in row order, duplicates included.
func (s Snapshot) DimensionKeys() map[string][]NaturalKey {
	out := make(map[string][]NaturalKey, len(Dimensions))
	add := func(d Dimension, parts ...string) {
		out[d.Name] = append(out[d.Name], Key(parts...))
	}
	for _, r := range s.Rows {
		add(DimProject, r.Project)
		add(DimUser, r.Reporter)
		add(DimUser, r.AssignedTo)
		add(DimPriority, r.Priority)
		add(DimSeverity, r.Severity)
		add(DimReproducibility, r.Reproducibility)
		add(DimVersion, r.ProductVersion)
		add(DimVersion, r.FixedInVersion)
		add(DimCategory, r.Category)
		add(DimStatus, r.ViewStatus)
		add(DimStatus, r.Status)
		add(DimStatus, r.Resolution)
		add(DimOS, r.Platform, r.OS, r.OSVersion)
	}
	return out
}

// CalendarDates returns every date the calendar dimension must hold before
// the fact load: submission and update dates, the snapshot date and the
// computed end date. Duplicates are not removed.
func (s Snapshot) CalendarDates() []time.Time {
	dates := make([]time.Time, 0, 2*len(s.Rows)+2)
	for _, r := range s.Rows {
		if r.Submitted != nil {
			dates = append(dates, DateOnly(*r.Submitted))
		}
		if r.Updated != nil {
			dates = append(dates, DateOnly(*r.Updated))
		}
	}
	start := DateOnly(s.SourceDate)
	dates = append(dates, start, start.AddDate(0, 0, -1))
	return dates
}
