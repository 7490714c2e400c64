package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf, RunID: "run-1"}

	require.NoError(t, formatter.Success(map[string]int{"inserted": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"file": "scribus-2025-09-30.csv"}
	require.NoError(t, formatter.Error("E_LOAD_FAILED", "1 snapshot(s) failed", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_LOAD_FAILED", resp.Error.Code)
	assert.Equal(t, "1 snapshot(s) failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
	assert.Empty(t, resp.RunID)
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("2 snapshots loaded"))
	require.NoError(t, formatter.Error("E_FETCH", "index unavailable", map[string]string{"url": "x"}))

	assert.Contains(t, buf.String(), "2 snapshots loaded")
	assert.Contains(t, buf.String(), "Error [E_FETCH]: index unavailable")
	assert.NotContains(t, buf.String(), "Details:", "details need --verbose")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("E_FETCH", "index unavailable", map[string]string{"url": "x"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("found %d snapshot file(s)", 3)

			assert.Empty(t, out.String(), "diagnostics never corrupt JSON output")
			if tt.wantLog {
				assert.Contains(t, diag.String(), "found 3 snapshot file(s)")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	cause := errors.New("disk full")

	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "failed to open warehouse", cause)))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "1 snapshot(s) failed")))
	assert.Equal(t, ExitFailure, GetExitCode(cause), "plain errors are failures")
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitCommandError, "x"))))

	err := WrapExitError(ExitCommandError, "failed to open warehouse", cause)
	assert.Equal(t, "failed to open warehouse: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestOutputFormatter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	formatter.Table([]string{"Dimension", "Rows"}, [][]string{
		{"user", "1,204"},
		{"os", "17"},
	})

	out := buf.String()
	assert.Contains(t, out, "Dimension", "headers keep their case")
	assert.NotContains(t, out, "DIMENSION")
	assert.Contains(t, out, "1,204")
	assert.Less(t, strings.Index(out, "user"), strings.Index(out, "os"), "rows keep their order")
}
