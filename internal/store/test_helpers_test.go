package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/bugdw/internal/engine"
	"github.com/roach88/bugdw/internal/model"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTx starts a unit of work that is rolled back at cleanup unless
// committed.
func beginTx(t *testing.T, s *Store) engine.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q failed: %v", query, err)
	}
	return n
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(id model.DateID) *model.DateID {
	return &id
}

// createTestFact creates a current fact row with every key at the sentinel.
func createTestFact(bugID int64, start model.DateID) model.FactRecord {
	return model.FactRecord{
		BugID:         bugID,
		SnapshotStart: start,
		IsCurrent:     true,
		Summary:       "test bug",
	}
}

// createTestBug creates a snapshot row with every attribute set to Unknown.
func createTestBug(id int64, project, status string) model.BugRecord {
	u := model.Unknown
	return model.BugRecord{
		BugID: id, Summary: "bug", Project: project, Reporter: u, AssignedTo: u,
		Priority: u, Severity: u, Reproducibility: u, ProductVersion: u,
		FixedInVersion: u, Category: u, Platform: u, OS: u, OSVersion: u,
		ViewStatus: u, Status: status, Resolution: u,
	}
}

func createTestSnapshot(d time.Time, rows ...model.BugRecord) model.Snapshot {
	return model.Snapshot{
		SourceDate: d,
		SourceFile: "scribus-dump-" + d.Format(time.DateOnly) + ".csv",
		Rows:       rows,
	}
}
