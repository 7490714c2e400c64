package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Unknown is the sentinel natural-key value. Cleaned snapshots use it in
// place of missing attribute values and every dimension maps it to key 0.
const Unknown = "Unknown"

// UnknownKey is the surrogate key reserved for the sentinel natural key.
const UnknownKey int64 = 0

// keySeparator joins quoted tuple components into a single map key.
// strconv.Quote escapes control characters, so it never appears inside a
// quoted component.
const keySeparator = "\x1f"

// Dimension describes one dimension table of the warehouse.
type Dimension struct {
	Name      string   // Registry name ("project", "os", ...)
	Table     string   // Warehouse table
	KeyColumn string   // Surrogate key column
	Columns   []string // Natural-key columns, in tuple order
}

// Arity returns the number of natural-key components.
func (d Dimension) Arity() int {
	return len(d.Columns)
}

// Sentinel returns the all-"Unknown" natural key for this dimension.
func (d Dimension) Sentinel() NaturalKey {
	k := make(NaturalKey, d.Arity())
	for i := range k {
		k[i] = Unknown
	}
	return k
}

// The warehouse dimensions. Status is shared by the view-status, status and
// resolution attributes; User by reporter and assignee; Version by product
// and fixed-in versions.
var (
	DimProject         = Dimension{Name: "project", Table: "dim_project", KeyColumn: "project_id", Columns: []string{"project_name"}}
	DimUser            = Dimension{Name: "user", Table: "dim_user", KeyColumn: "user_id", Columns: []string{"username"}}
	DimPriority        = Dimension{Name: "priority", Table: "dim_priority", KeyColumn: "priority_id", Columns: []string{"priority_name"}}
	DimSeverity        = Dimension{Name: "severity", Table: "dim_severity", KeyColumn: "severity_id", Columns: []string{"severity_name"}}
	DimReproducibility = Dimension{Name: "reproducibility", Table: "dim_reproducibility", KeyColumn: "reproducibility_id", Columns: []string{"reproducibility_name"}}
	DimVersion         = Dimension{Name: "version", Table: "dim_version", KeyColumn: "version_id", Columns: []string{"version_name"}}
	DimCategory        = Dimension{Name: "category", Table: "dim_category", KeyColumn: "category_id", Columns: []string{"category_name"}}
	DimStatus          = Dimension{Name: "status", Table: "dim_status", KeyColumn: "status_id", Columns: []string{"status_name"}}
	DimOS              = Dimension{Name: "os", Table: "dim_os", KeyColumn: "os_id", Columns: []string{"os_platform", "os_name", "os_version"}}
)

// Dimensions lists every dimension in load order.
var Dimensions = []Dimension{
	DimProject,
	DimUser,
	DimPriority,
	DimSeverity,
	DimReproducibility,
	DimVersion,
	DimCategory,
	DimStatus,
	DimOS,
}

// DimensionByName looks up a dimension by registry name.
func DimensionByName(name string) (Dimension, bool) {
	for _, d := range Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// NaturalKey is an ordered tuple of attribute values identifying one
// dimension member. Simple dimensions use 1-tuples.
type NaturalKey []string

// Key builds a natural key from its components.
func Key(parts ...string) NaturalKey {
	return NaturalKey(parts)
}

// String returns the map form of the key: quoted components joined with
// the unit separator. Two keys are equal iff their String forms are equal.
func (k NaturalKey) String() string {
	quoted := make([]string, len(k))
	for i, p := range k {
		quoted[i] = strconv.Quote(p)
	}
	return strings.Join(quoted, keySeparator)
}

// IsSentinel reports whether every component is "Unknown".
func (k NaturalKey) IsSentinel() bool {
	if len(k) == 0 {
		return false
	}
	for _, p := range k {
		if p != Unknown {
			return false
		}
	}
	return true
}

// ParseKey reverses NaturalKey.String.
func ParseKey(s string) (NaturalKey, error) {
	parts := strings.Split(s, keySeparator)
	k := make(NaturalKey, len(parts))
	for i, p := range parts {
		v, err := strconv.Unquote(p)
		if err != nil {
			return nil, fmt.Errorf("parse natural key component %d: %w", i, err)
		}
		k[i] = v
	}
	return k, nil
}

// DimensionEntry is one persisted dimension row.
type DimensionEntry struct {
	Key     int64      `json:"key"`
	Natural NaturalKey `json:"natural"`
}

// SortEntries orders entries by surrogate key.
func SortEntries(entries []DimensionEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
