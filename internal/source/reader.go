package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/bugdw/internal/model"
)

// Mantis export column headers.
const (
	colID              = "Id"
	colProject         = "Project"
	colReporter        = "Reporter"
	colAssignedTo      = "Assigned To"
	colPriority        = "Priority"
	colSeverity        = "Severity"
	colReproducibility = "Reproducibility"
	colProductVersion  = "Product Version"
	colCategory        = "Category"
	colSubmitted       = "Date Submitted"
	colOS              = "OS"
	colOSVersion       = "OS Version"
	colPlatform        = "Platform"
	colViewStatus      = "View Status"
	colUpdated         = "Updated"
	colSummary         = "Summary"
	colStatus          = "Status"
	colResolution      = "Resolution"
	colFixedInVersion  = "Fixed in Version"
)

// lowerCased lists the categorical columns compared case-insensitively.
var lowerCased = map[string]bool{
	colPriority:        true,
	colSeverity:        true,
	colReproducibility: true,
	colCategory:        true,
	colStatus:          true,
	colResolution:      true,
	colViewStatus:      true,
}

// timeLayouts are tried in order for Date Submitted and Updated.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"02.01.2006 15:04",
	"02.01.2006",
}

// ErrNoIDColumn is returned for a file without an Id column.
var ErrNoIDColumn = errors.New("missing Id column")

// ReadSnapshot parses and cleans the CSV file at path as the snapshot of date.
func ReadSnapshot(path string, date time.Time) (model.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	snap, err := Parse(f, date)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	snap.SourceFile = filepath.Base(path)
	return snap, nil
}

// Parse reads a Mantis CSV export from r and cleans every row.
// A row whose Id is not an integer fails the whole snapshot.
func Parse(r io.Reader, date time.Time) (model.Snapshot, error) {
	snap := model.Snapshot{SourceDate: model.DateOnly(date), Rows: []model.BugRecord{}}

	br := bufio.NewReader(r)
	// Excel-produced exports start with a UTF-8 BOM.
	if b, err := br.Peek(3); err == nil && string(b) == "\xef\xbb\xbf" {
		br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	if _, ok := index[colID]; !ok {
		return snap, ErrNoIDColumn
	}

	c := newCleaner(index)
	seen := make(map[string]struct{})
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return snap, fmt.Errorf("row %d: %w", line, err)
		}
		if isBlank(rec) {
			continue
		}

		bug, err := c.clean(rec)
		if err != nil {
			return snap, fmt.Errorf("row %d: %w", line, err)
		}

		key := bug.fingerprint()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		snap.Rows = append(snap.Rows, bug.BugRecord)
	}
	return snap, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// cleaner maps one raw record to a BugRecord.
type cleaner struct {
	index map[string]int
	lower cases.Caser
}

func newCleaner(index map[string]int) *cleaner {
	return &cleaner{index: index, lower: cases.Lower(language.Und)}
}

// raw returns the trimmed value of column, or "" when absent.
func (c *cleaner) raw(rec []string, column string) string {
	i, ok := c.index[column]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// text returns the cleaned value of a string column.
func (c *cleaner) text(rec []string, column string) string {
	v := c.raw(rec, column)
	if v == "" {
		return model.Unknown
	}
	v = norm.NFC.String(v)
	if lowerCased[column] {
		v = c.lower.String(v)
	}
	return v
}

// timestamp returns the parsed value of a date column, or nil.
func (c *cleaner) timestamp(rec []string, column string) *time.Time {
	v := c.raw(rec, column)
	if v == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return &t
		}
	}
	return nil
}

type cleanRecord struct {
	model.BugRecord
}

func (c *cleaner) clean(rec []string) (cleanRecord, error) {
	rawID := c.raw(rec, colID)
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return cleanRecord{}, fmt.Errorf("Id %q is not an integer", rawID)
	}

	return cleanRecord{model.BugRecord{
		BugID:           id,
		Summary:         c.text(rec, colSummary),
		Project:         c.text(rec, colProject),
		Reporter:        c.text(rec, colReporter),
		AssignedTo:      c.text(rec, colAssignedTo),
		Priority:        c.text(rec, colPriority),
		Severity:        c.text(rec, colSeverity),
		Reproducibility: c.text(rec, colReproducibility),
		ProductVersion:  c.text(rec, colProductVersion),
		FixedInVersion:  c.text(rec, colFixedInVersion),
		Category:        c.text(rec, colCategory),
		Platform:        c.text(rec, colPlatform),
		OS:              c.text(rec, colOS),
		OSVersion:       c.text(rec, colOSVersion),
		ViewStatus:      c.text(rec, colViewStatus),
		Status:          c.text(rec, colStatus),
		Resolution:      c.text(rec, colResolution),
		Submitted:       c.timestamp(rec, colSubmitted),
		Updated:         c.timestamp(rec, colUpdated),
	}}, nil
}

// fingerprint identifies a cleaned row for exact-duplicate removal.
func (r cleanRecord) fingerprint() string {
	ts := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339Nano)
	}
	return strings.Join([]string{
		strconv.FormatInt(r.BugID, 10), r.Summary, r.Project, r.Reporter, r.AssignedTo,
		r.Priority, r.Severity, r.Reproducibility, r.ProductVersion, r.FixedInVersion,
		r.Category, r.Platform, r.OS, r.OSVersion, r.ViewStatus, r.Status, r.Resolution,
		ts(r.Submitted), ts(r.Updated),
	}, "\x1f")
}
