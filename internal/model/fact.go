package model

// FactRecord is one version of a bug in the fact table.
type FactRecord struct {
	BugID             int64   `json:"bug_id"`
	SnapshotStart     DateID  `json:"snapshot_start"`
	SnapshotEnd       *DateID `json:"snapshot_end"` // nil while current
	IsCurrent         bool    `json:"is_current"`
	Summary           string  `json:"summary"`
	DateSubmittedID   DateID  `json:"date_submitted_id"`
	DateUpdatedID     DateID  `json:"date_updated_id"`
	ProjectID         int64   `json:"project_id"`
	ReporterID        int64   `json:"reporter_id"`
	AssigneeID        int64   `json:"assignee_id"`
	PriorityID        int64   `json:"priority_id"`
	SeverityID        int64   `json:"severity_id"`
	ReproducibilityID int64   `json:"reproducibility_id"`
	ProductVersionID  int64   `json:"product_version_id"`
	FixedVersionID    int64   `json:"fixed_version_id"`
	CategoryID        int64   `json:"category_id"`
	OSID              int64   `json:"os_id"`
	ViewStatusID      int64   `json:"view_status_id"`
	StatusID          int64   `json:"status_id"`
	ResolutionID      int64   `json:"resolution_id"`
}

// FactColumns is the fact_bug column order used by every gateway.
var FactColumns = []string{
	"bug_id", "snapshot_start", "snapshot_end", "is_current", "summary",
	"date_submitted_id", "date_updated_id", "project_id", "reporter_id",
	"assignee_id", "priority_id", "severity_id", "reproducibility_id",
	"product_version_id", "fixed_version_id", "category_id", "os_id",
	"view_status_id", "status_id", "resolution_id",
}

// Values returns the record's column values in FactColumns order.
// A nil SnapshotEnd is returned as an untyped nil.
func (f FactRecord) Values() []any {
	var end any
	if f.SnapshotEnd != nil {
		end = int64(*f.SnapshotEnd)
	}
	return []any{
		f.BugID, int64(f.SnapshotStart), end, f.IsCurrent, f.Summary,
		int64(f.DateSubmittedID), int64(f.DateUpdatedID), f.ProjectID, f.ReporterID,
		f.AssigneeID, f.PriorityID, f.SeverityID, f.ReproducibilityID,
		f.ProductVersionID, f.FixedVersionID, f.CategoryID, f.OSID,
		f.ViewStatusID, f.StatusID, f.ResolutionID,
	}
}
