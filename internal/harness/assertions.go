package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/bugdw/internal/model"
	"github.com/roach88/bugdw/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // Run outcomes for context; may be nil
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nRuns:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [run %d] %s %s\n", ev.Run, ev.Snapshot, ev.Status)
		}
	}
	return buf.String()
}

// assertFinalState checks that exactly one row of the table matches the
// where clause and that it contains the expected values (subset match).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion, trace []TraceEvent) error {
	query, args, err := buildQuery("SELECT * FROM %s", assertion.Table, assertion.Where)
	if err != nil {
		return err
	}

	rows, err := st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	whereDesc := formatWhereClause(assertion.Where)
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
			Trace:    trace,
		}
	}

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertRowCount checks the number of rows matching the where clause.
func assertRowCount(ctx context.Context, st *store.Store, assertion Assertion, trace []TraceEvent) error {
	query, args, err := buildQuery("SELECT COUNT(*) FROM %s", assertion.Table, assertion.Where)
	if err != nil {
		return err
	}

	var n int
	if err := st.DB().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if n != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", n),
			Trace:    trace,
		}
	}
	return nil
}

// assertHistory checks the SCD2 versions of one bug, oldest first.
func assertHistory(ctx context.Context, st *store.Store, assertion Assertion, trace []TraceEvent) error {
	versions, err := st.BugHistory(ctx, assertion.Bug)
	if err != nil {
		return fmt.Errorf("bug history: %w", err)
	}

	if len(versions) != len(assertion.Versions) {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("bug %d with %d versions", assertion.Bug, len(assertion.Versions)),
			Actual:   fmt.Sprintf("%d versions: %s", len(versions), describeVersions(versions)),
			Trace:    trace,
		}
	}

	for i, want := range assertion.Versions {
		got := versions[i]
		start, _ := model.ParseDateID(want.Start)
		if got.SnapshotStart != start {
			return &AssertionError{
				Type:     AssertHistory,
				Expected: fmt.Sprintf("bug %d version %d starting %s", assertion.Bug, i+1, want.Start),
				Actual:   describeVersions(versions),
				Trace:    trace,
			}
		}

		if want.End == "" {
			if got.SnapshotEnd != nil || !got.IsCurrent {
				return &AssertionError{
					Type:     AssertHistory,
					Expected: fmt.Sprintf("bug %d version %d current", assertion.Bug, i+1),
					Actual:   describeVersions(versions),
					Trace:    trace,
				}
			}
		} else {
			end, _ := model.ParseDateID(want.End)
			if got.SnapshotEnd == nil || *got.SnapshotEnd != end || got.IsCurrent {
				return &AssertionError{
					Type:     AssertHistory,
					Expected: fmt.Sprintf("bug %d version %d ending %s", assertion.Bug, i+1, want.End),
					Actual:   describeVersions(versions),
					Trace:    trace,
				}
			}
		}

		fields := versionFields(got)
		for _, key := range sortedKeys(want.Expect) {
			actual, ok := fields[key]
			if !ok {
				return fmt.Errorf("history: unknown field %q", key)
			}
			if actual != want.Expect[key] {
				return &AssertionError{
					Type:     AssertHistory,
					Expected: fmt.Sprintf("bug %d version %d %s = %q", assertion.Bug, i+1, key, want.Expect[key]),
					Actual:   fmt.Sprintf("%s = %q", key, actual),
					Trace:    trace,
				}
			}
		}
	}
	return nil
}

// versionFields exposes the resolved attributes of a version by name.
func versionFields(v model.BugVersion) map[string]string {
	return map[string]string{
		"summary":       v.Summary,
		"project":       v.Project,
		"reporter":      v.Reporter,
		"assignee":      v.Assignee,
		"priority":      v.Priority,
		"severity":      v.Severity,
		"status":        v.Status,
		"resolution":    v.Resolution,
		"fixed_version": v.FixedVersion,
	}
}

func describeVersions(versions []model.BugVersion) string {
	if len(versions) == 0 {
		return "(none)"
	}
	parts := make([]string, len(versions))
	for i, v := range versions {
		end := "current"
		if v.SnapshotEnd != nil {
			end = v.SnapshotEnd.String()
		}
		parts[i] = fmt.Sprintf("[%s..%s %s]", v.SnapshotStart, end, v.Status)
	}
	return strings.Join(parts, " ")
}

// buildQuery validates the table name and appends a parameterized WHERE
// clause to the formatted statement.
func buildQuery(format, table string, where map[string]interface{}) (string, []interface{}, error) {
	// Identifiers can't be parameterized.
	if !validIdentifier.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q: must match pattern %s", table, validIdentifier.String())
	}
	whereSQL, whereArgs, err := buildWhereClause(where)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf(format, table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	return query, whereArgs, nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
// A nil value matches SQL NULL.
func buildWhereClause(where map[string]interface{}) (string, []interface{}, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, fmt.Sprintf("%s IS NULL", key))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML value to a SQL-compatible value.
func toSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares expected and actual values from state tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual interface{}) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	switch exp := expected.(type) {
	case string:
		switch a := actual.(type) {
		case string:
			return exp == a
		case []byte:
			return exp == string(a)
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the warehouse.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error
		if actx == nil || actx.Store == nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %s requires database context", i, assertion.Type))
			continue
		}

		switch assertion.Type {
		case AssertFinalState:
			err = assertFinalState(actx.Ctx, actx.Store, assertion, result.Trace)
		case AssertRowCount:
			err = assertRowCount(actx.Ctx, actx.Store, assertion, result.Trace)
		case AssertHistory:
			err = assertHistory(actx.Ctx, actx.Store, assertion, result.Trace)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
