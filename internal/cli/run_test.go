package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")

func TestRunCommand_Text(t *testing.T) {
	for _, engine := range []string{"pebble", "sqlite"} {
		t.Run(engine, func(t *testing.T) {
			out, err := executeCommand(t, "run", filepath.Join(harnessScenarios, "recede_collapses_times.yaml"), "--engine", engine)
			require.NoError(t, err)

			assert.Contains(t, out, "recede_collapses_times ("+engine+")")
			assert.Contains(t, out, "  [3] recede_to (1, 1)\n")
			assert.Contains(t, out, "snapshot before:\n")
			assert.Contains(t, out, "final:\n  1:\n    a:\n      (0, 1) -> 1\n")
			assert.Contains(t, out, "✓ passed")
		})
	}
}

func TestRunCommand_JSON(t *testing.T) {
	out, err := executeCommand(t, "run", filepath.Join(harnessScenarios, "capacity_rejection.yaml"), "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, "pebble", resp.Data.Engine)
	require.Len(t, resp.Data.Steps, 2)
	assert.Equal(t, "capacity", resp.Data.Steps[1].Error)
}

func TestRunCommand_FailingScenario(t *testing.T) {
	path := writeFile(t, t.TempDir(), "wrong.yaml", `
name: wrong
description: "expects a key that was never inserted"
steps:
  - insert:
      upper: [1, 0]
      updates:
        - {key: 1, val: a, time: [0, 0], weight: 1}
assertions:
  - type: keys
    keys: [7]
`)
	out, err := executeCommand(t, "run", path)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failed")
	assert.Contains(t, out, "Assertion failed: keys")
}

func TestRunCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	malformed := writeFile(t, dir, "bad.yaml", "name: bad\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing scenario", []string{"run", filepath.Join(dir, "absent.yaml")}},
		{"malformed scenario", []string{"run", malformed}},
		{"missing config", []string{"run", malformed, "--config", filepath.Join(dir, "absent.yaml")}},
		{"no argument", []string{"run"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			if tt.name != "no argument" {
				assert.Equal(t, ExitCommandError, GetExitCode(err))
			}
		})
	}
}
