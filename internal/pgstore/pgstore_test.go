package pgstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
)

// dsnEnvVar names a PostgreSQL URL. Tests are skipped when it is unset.
const dsnEnvVar = "BUGDW_TEST_POSTGRES_DSN"

// newTestStore opens a store in a fresh schema that is dropped at cleanup.
func newTestStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv(dsnEnvVar)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnvVar)
	}

	schema := "bugdw_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close(context.Background())
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	s, err := Open(ctx, dsn+sep+"search_path="+schema)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testBug(id int64, project, status string) model.BugRecord {
	u := model.Unknown
	return model.BugRecord{
		BugID: id, Summary: "bug", Project: project, Reporter: u, AssignedTo: u,
		Priority: u, Severity: u, Reproducibility: u, ProductVersion: u,
		FixedInVersion: u, Category: u, Platform: u, OS: u, OSVersion: u,
		ViewStatus: u, Status: status, Resolution: u,
	}
}

func testSnapshot(d time.Time, rows ...model.BugRecord) model.Snapshot {
	return model.Snapshot{SourceDate: d, SourceFile: "scribus-dump-" + d.Format(time.DateOnly) + ".csv", Rows: rows}
}

func newEngine(s *Store, id string) *engine.Engine {
	return engine.New(s,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(id)),
	)
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(ctx, t)

	_, err := s.pool.Exec(ctx, schemaSQL)
	assert.NoError(t, err)
}

func TestMergeCalendar_InsertsOnlyAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(ctx, t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.EnsureCalendarSentinel(ctx))
	n, err := tx.MergeCalendar(ctx, []model.CalendarEntry{
		model.NewCalendarEntry(day(2025, 10, 23)),
		model.NewCalendarEntry(day(2025, 10, 24)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = tx.MergeCalendar(ctx, []model.CalendarEntry{
		model.NewCalendarEntry(day(2025, 10, 24)),
		model.NewCalendarEntry(day(2025, 10, 25)),
		model.NewCalendarEntry(day(2025, 10, 25)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, tx.Commit())

	ids, err := s.ReadCalendar(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.DateID{0, 20251023, 20251024, 20251025}, ids)
}

func TestInsertDimension_ConflictFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(ctx, t)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.InsertDimension(ctx, model.DimUser, []model.DimensionEntry{{Key: 1, Natural: model.Key("mallory")}}))
	assert.Error(t, tx.InsertDimension(ctx, model.DimUser, []model.DimensionEntry{{Key: 2, Natural: model.Key("mallory")}}))
}

func TestEngine_SCD2OverPostgres(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(ctx, t)

	rep, err := newEngine(s, "run-1").Run(ctx, engine.Snapshots(
		testSnapshot(day(2025, 10, 1), testBug(42, "Scribus", "new"), testBug(7, "Website", "new")),
		testSnapshot(day(2025, 10, 24), testBug(42, "Scribus", "resolved")),
	))
	require.NoError(t, err)
	require.NoError(t, rep.Err())

	versions, err := s.BugHistory(ctx, 42)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.NotNil(t, versions[0].SnapshotEnd)
	assert.Equal(t, model.DateID(20251023), *versions[0].SnapshotEnd)
	assert.Equal(t, "resolved", versions[1].Status)
	assert.True(t, versions[1].IsCurrent)

	untouched, err := s.BugHistory(ctx, 7)
	require.NoError(t, err)
	require.Len(t, untouched, 1)
	assert.True(t, untouched[0].IsCurrent)

	counts, err := s.FactCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.FactCounts{Bugs: 2, Current: 2, Historical: 1, Snapshots: 2, Latest: 20251024}, counts)

	// A second engine warm-starts and skips both snapshots.
	rep, err = newEngine(s, "run-2").Run(ctx, engine.Snapshots(
		testSnapshot(day(2025, 10, 1), testBug(42, "Scribus", "new"), testBug(7, "Website", "new")),
		testSnapshot(day(2025, 10, 24), testBug(42, "Scribus", "resolved")),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Count(model.StatusSkipped))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Skipped+runs[1].Skipped)
}
