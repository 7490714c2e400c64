package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bugdw/internal/model"
)

func TestHistory_Text(t *testing.T) {
	db := loadedWarehouse(t)

	out, _, err := execute(t, "history", "1", "--db", db)
	require.NoError(t, err)

	assert.Contains(t, out, "Bug 1: 2 version(s)")
	assert.Contains(t, out, "resolved")
	assert.Contains(t, out, "fixed")
	assert.Contains(t, out, "current")
	assert.Contains(t, out, "Crash on save")
}

func TestHistory_JSON(t *testing.T) {
	db := loadedWarehouse(t)

	out, _, err := execute(t, "--format", "json", "history", "2", "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string             `json:"status"`
		Data   []model.BugVersion `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)

	first, second := resp.Data[0], resp.Data[1]
	assert.Equal(t, model.DateID(20250930), first.SnapshotStart)
	require.NotNil(t, first.SnapshotEnd)
	assert.Equal(t, model.DateID(20250930), *first.SnapshotEnd, "closed the day before the next snapshot")
	assert.False(t, first.IsCurrent)

	assert.Equal(t, model.DateID(20251001), second.SnapshotStart)
	assert.Nil(t, second.SnapshotEnd)
	assert.True(t, second.IsCurrent)
	assert.Equal(t, model.Unknown, second.Assignee)
	assert.Equal(t, "carol", second.Reporter)
}

func TestHistory_Errors(t *testing.T) {
	db := loadedWarehouse(t)

	_, _, err := execute(t, "history", "99", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "bug 99 not found")

	_, _, err = execute(t, "history", "abc", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "history", "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
