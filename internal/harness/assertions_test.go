package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bugdw/internal/store"
)

func loadedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.DB().Exec(`INSERT INTO dim_user (user_id, username) VALUES (0, 'Unknown'), (1, 'alice'), (2, 'bob')`)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO fact_bug (bug_id, snapshot_start, snapshot_end, is_current, summary, reporter_id)
		VALUES (1, 20250930, 20251023, 0, 'old', 1), (1, 20251024, NULL, 1, 'new', 2)`)
	require.NoError(t, err)
	return st
}

func evaluate(t *testing.T, st *store.Store, a Assertion) []string {
	t.Helper()
	return EvaluateAssertions(NewResult(), []Assertion{a}, &AssertionContext{Store: st, Ctx: context.Background()})
}

func TestAssertFinalState(t *testing.T) {
	st := loadedStore(t)

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{
			name: "match",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug",
				Where:  map[string]interface{}{"bug_id": 1, "is_current": true},
				Expect: map[string]interface{}{"summary": "new", "snapshot_end": nil, "reporter_id": 2}},
		},
		{
			name: "null where",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug",
				Where:  map[string]interface{}{"snapshot_end": nil},
				Expect: map[string]interface{}{"summary": "new"}},
		},
		{
			name: "value mismatch",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug",
				Where:  map[string]interface{}{"bug_id": 1, "is_current": 1},
				Expect: map[string]interface{}{"summary": "old"}},
			wantErr: `field "summary" = old`,
		},
		{
			name: "ambiguous",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug",
				Where:  map[string]interface{}{"bug_id": 1},
				Expect: map[string]interface{}{"summary": "new"}},
			wantErr: "multiple rows matched",
		},
		{
			name: "not found",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug",
				Where:  map[string]interface{}{"bug_id": 99},
				Expect: map[string]interface{}{"summary": "new"}},
			wantErr: "row not found",
		},
		{
			name: "missing column",
			a: Assertion{Type: AssertFinalState, Table: "dim_user",
				Where:  map[string]interface{}{"user_id": 1},
				Expect: map[string]interface{}{"email": "x"}},
			wantErr: `field "email" not present`,
		},
		{
			name: "invalid table",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug; DROP TABLE fact_bug",
				Expect: map[string]interface{}{"summary": "new"}},
			wantErr: "invalid table name",
		},
		{
			name: "invalid column",
			a: Assertion{Type: AssertFinalState, Table: "fact_bug",
				Where:  map[string]interface{}{"1=1 OR bug_id": 1},
				Expect: map[string]interface{}{"summary": "new"}},
			wantErr: "invalid column name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := evaluate(t, st, tt.a)
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestAssertRowCount(t *testing.T) {
	st := loadedStore(t)

	assert.Empty(t, evaluate(t, st, Assertion{Type: AssertRowCount, Table: "fact_bug", Count: 2}))
	assert.Empty(t, evaluate(t, st, Assertion{Type: AssertRowCount, Table: "fact_bug",
		Where: map[string]interface{}{"is_current": 0}, Count: 1}))
	assert.Empty(t, evaluate(t, st, Assertion{Type: AssertRowCount, Table: "dim_os", Count: 0}))

	errs := evaluate(t, st, Assertion{Type: AssertRowCount, Table: "dim_user", Count: 2})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: 2 rows in dim_user where (no conditions)")
	assert.Contains(t, errs[0], "Actual: 3 rows")

	errs = evaluate(t, st, Assertion{Type: AssertRowCount, Table: "no_such_table", Count: 0})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "query error")
}

func TestAssertHistory(t *testing.T) {
	st := loadedStore(t)

	ok := Assertion{Type: AssertHistory, Bug: 1, Versions: []VersionExpect{
		{Start: "2025-09-30", End: "2025-10-23", Expect: map[string]string{"summary": "old", "reporter": "alice", "status": "Unknown"}},
		{Start: "2025-10-24", Expect: map[string]string{"reporter": "bob"}},
	}}
	assert.Empty(t, evaluate(t, st, ok))

	tests := []struct {
		name     string
		versions []VersionExpect
		wantErr  string
	}{
		{"wrong length", []VersionExpect{{Start: "2025-09-30"}}, "with 1 versions"},
		{"wrong start", []VersionExpect{{Start: "2025-09-29", End: "2025-10-23"}, {Start: "2025-10-24"}}, "version 1 starting 2025-09-29"},
		{"wrong end", []VersionExpect{{Start: "2025-09-30", End: "2025-10-22"}, {Start: "2025-10-24"}}, "version 1 ending 2025-10-22"},
		{"not current", []VersionExpect{{Start: "2025-09-30"}, {Start: "2025-10-24"}}, "version 1 current"},
		{"wrong field", []VersionExpect{{Start: "2025-09-30", End: "2025-10-23"}, {Start: "2025-10-24", Expect: map[string]string{"reporter": "alice"}}}, `reporter = "bob"`},
		{"unknown field", []VersionExpect{{Start: "2025-09-30", End: "2025-10-23", Expect: map[string]string{"color": "red"}}, {Start: "2025-10-24"}}, `unknown field "color"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := evaluate(t, st, Assertion{Type: AssertHistory, Bug: 1, Versions: tt.versions})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}

	none := evaluate(t, st, Assertion{Type: AssertHistory, Bug: 2})
	assert.Empty(t, none, "a bug without versions matches an empty list")
}

func TestEvaluateAssertions_NoStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertRowCount, Table: "fact_bug"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires database context")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]interface{}{"b": 2, "a": "x", "c": nil})
	require.NoError(t, err)
	assert.Equal(t, "a = ? AND b = ? AND c IS NULL", sql)
	assert.Equal(t, []interface{}{"x", 2}, args)

	sql, args, err = buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		expected, actual interface{}
		want             bool
	}{
		{nil, nil, true},
		{nil, int64(0), false},
		{"a", "a", true},
		{"a", []byte("a"), true},
		{"a", int64(1), false},
		{1, int64(1), true},
		{1, 1, true},
		{int64(2), int64(2), true},
		{true, int64(1), true},
		{false, int64(0), true},
		{true, true, true},
		{true, int64(0), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual), "%v vs %v", tt.expected, tt.actual)
	}
}
