package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bugdw/internal/model"
)

// Scenario defines a load scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Runs are executed in order against the same warehouse, each with a
	// fresh engine.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the final warehouse.
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir resolves csv_file paths. Empty for scenarios built in code.
	dir string
}

// RunStep is one loader run.
type RunStep struct {
	Snapshots []SnapshotStep `yaml:"snapshots"`

	// Expect checks the per-snapshot outcome of this run.
	Expect []ExpectClause `yaml:"expect,omitempty"`
}

// SnapshotStep is one snapshot handed to the engine. Exactly one of CSV and
// CSVFile is set.
type SnapshotStep struct {
	// Date is the snapshot date, YYYY-MM-DD.
	Date string `yaml:"date"`

	// File is the source file name reported in the journal. Defaults to
	// scribus-<date>.csv.
	File string `yaml:"file,omitempty"`

	// CSV is the snapshot content, header row first.
	CSV string `yaml:"csv,omitempty"`

	// CSVFile is a path to the content, relative to the scenario file.
	CSVFile string `yaml:"csv_file,omitempty"`

	// Fail injects gateway failures while this snapshot is processed.
	Fail *Faults `yaml:"fail,omitempty"`
}

// Faults selects the units of work that fail for one snapshot.
type Faults struct {
	Dimensions []string `yaml:"dimensions,omitempty"`
	Calendar   bool     `yaml:"calendar,omitempty"`
	Facts      bool     `yaml:"facts,omitempty"`
	Read       bool     `yaml:"read,omitempty"`
}

// ExpectClause specifies the outcome of one snapshot within a run.
type ExpectClause struct {
	Snapshot string `yaml:"snapshot"`
	Status   string `yaml:"status"`

	// Closed and Inserted are checked only when present.
	Closed   *int64 `yaml:"closed,omitempty"`
	Inserted *int64 `yaml:"inserted,omitempty"`
}

// Assertion validates the final warehouse.
type Assertion struct {
	// Type is one of final_state, row_count, history.
	Type string `yaml:"type"`

	// Table is the queried table (final_state, row_count).
	Table string `yaml:"table,omitempty"`

	// Where filters rows by exact column values (final_state, row_count).
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect is a subset of the matched row's columns (final_state).
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of matching rows (row_count).
	Count int `yaml:"count,omitempty"`

	// Bug and Versions describe a bug history (history).
	Bug      int64           `yaml:"bug,omitempty"`
	Versions []VersionExpect `yaml:"versions,omitempty"`
}

// VersionExpect is one expected SCD2 version of a bug. An empty End means
// the version is current.
type VersionExpect struct {
	Start  string            `yaml:"start"`
	End    string            `yaml:"end,omitempty"`
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState = "final_state"
	AssertRowCount   = "row_count"
	AssertHistory    = "history"
)

var validStatuses = map[string]bool{
	string(model.StatusLoaded):  true,
	string(model.StatusPartial): true,
	string(model.StatusSkipped): true,
	string(model.StatusFailed):  true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// csv_file paths are resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)

	if err := s.checkFiles(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. csv_file paths stay relative to the
// working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// resolve returns the path of a csv_file reference.
func (s *Scenario) resolve(p string) string {
	if filepath.IsAbs(p) || s.dir == "" {
		return p
	}
	return filepath.Join(s.dir, p)
}

func (s *Scenario) checkFiles() error {
	for i, run := range s.Runs {
		for j, snap := range run.Snapshots {
			if snap.CSVFile == "" {
				continue
			}
			if _, err := os.Stat(s.resolve(snap.CSVFile)); err != nil {
				return fmt.Errorf("runs[%d].snapshots[%d]: csv_file not found: %s", i, j, snap.CSVFile)
			}
		}
	}
	return nil
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func checkDate(field, v string) error {
	if !isoDate.MatchString(v) {
		return fmt.Errorf("%s: %q is not a YYYY-MM-DD date", field, v)
	}
	if _, err := model.ParseDateID(v); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	for i, run := range s.Runs {
		if len(run.Snapshots) == 0 {
			return fmt.Errorf("runs[%d]: snapshots list is required and must be non-empty", i)
		}
		for j, snap := range run.Snapshots {
			field := fmt.Sprintf("runs[%d].snapshots[%d]", i, j)
			if err := checkDate(field+".date", snap.Date); err != nil {
				return err
			}
			if (snap.CSV == "") == (snap.CSVFile == "") {
				return fmt.Errorf("%s: exactly one of csv and csv_file is required", field)
			}
			if snap.Fail != nil {
				for _, name := range snap.Fail.Dimensions {
					if _, ok := model.DimensionByName(name); !ok {
						return fmt.Errorf("%s.fail: unknown dimension %q", field, name)
					}
				}
			}
		}
		for j, exp := range run.Expect {
			field := fmt.Sprintf("runs[%d].expect[%d]", i, j)
			if err := checkDate(field+".snapshot", exp.Snapshot); err != nil {
				return err
			}
			if !validStatuses[exp.Status] {
				return fmt.Errorf("%s: unknown status %q", field, exp.Status)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertHistory:
		if a.Bug == 0 {
			return fmt.Errorf("assertions[%d]: bug is required for history", index)
		}
		for j, v := range a.Versions {
			if err := checkDate(fmt.Sprintf("assertions[%d].versions[%d].start", index, j), v.Start); err != nil {
				return err
			}
			if v.End != "" {
				if err := checkDate(fmt.Sprintf("assertions[%d].versions[%d].end", index, j), v.End); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
