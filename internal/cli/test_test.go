package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyScenarios copies the harness scenarios into a temp dir so golden files
// can be written next to them.
func copyScenarios(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(harnessScenarios, name))
		require.NoError(t, err)
		writeFile(t, dir, name, string(data))
	}
	return dir
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	out, err := executeCommand(t, "test", harnessScenarios, "--engine", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ basic_insert")
	assert.Contains(t, out, "✓ truncation")
	assert.Contains(t, out, "Test Summary (sqlite): 5 passed, 0 failed, 5 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := executeCommand(t, "test", harnessScenarios, "--filter", "recede*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "recede_collapses_times", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_GoldenLifecycle(t *testing.T) {
	dir := copyScenarios(t, "basic_insert.yaml", "truncation.yaml")
	golden := filepath.Join(dir, "golden", "basic_insert.golden")

	_, err := executeCommand(t, "test", dir, "--update")
	require.NoError(t, err)
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "basic_insert"`)

	_, err = executeCommand(t, "test", dir, "--engine", "sqlite")
	require.NoError(t, err, "goldens written with pebble match sqlite")

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0644))
	out, err := executeCommand(t, "test", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ basic_insert")
	assert.Contains(t, out, "does not match golden file")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\nsteps: nope\n")

	out, err := executeCommand(t, "test", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_Empty(t *testing.T) {
	out, err := executeCommand(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := executeCommand(t, "test", filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
