package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const snapshotHeader = "Id,Project,Reporter,Assigned To,Priority,Status,Resolution,Summary,Date Submitted\n"

// writeSnapshot writes a snapshot file named scribus-<date>.csv into dir.
func writeSnapshot(t *testing.T, dir, date, rows string) string {
	t.Helper()
	p := filepath.Join(dir, "scribus-"+date+".csv")
	require.NoError(t, os.WriteFile(p, []byte(snapshotHeader+rows), 0o644))
	return p
}

// execute runs the root command with args and an env file that does not
// exist, so the developer's .env never leaks into a test.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")}, args...))
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// loadedWarehouse loads two snapshots into a fresh SQLite file and returns
// its path.
func loadedWarehouse(t *testing.T) string {
	t.Helper()
	data := t.TempDir()
	writeSnapshot(t, data, "2025-09-30",
		"1,Scribus,alice,bob,HIGH,New,Open,Crash on save,2025-09-01 10:00\n"+
			"2,Scribus,carol,,low,New,Open,Typo in menu,2025-09-02 11:00\n")
	writeSnapshot(t, data, "2025-10-01",
		"1,Scribus,alice,bob,high,Resolved,Fixed,Crash on save,2025-09-01 10:00\n"+
			"2,Scribus,carol,,low,New,Open,Typo in menu,2025-09-02 11:00\n")

	db := filepath.Join(t.TempDir(), "warehouse.db")
	_, _, err := execute(t, "load", "--db", db, "--driver", "sqlite", "--prefix", "scribus", data)
	require.NoError(t, err)
	return db
}
