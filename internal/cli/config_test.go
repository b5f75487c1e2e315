package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	valid := writeFile(t, dir, "valid.yaml", "engine: sqlite\nmax_value_size: 1024\n")
	invalid := writeFile(t, dir, "invalid.yaml", "engine: rocksdb\nmax_key_size: 0\n")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		contains []string
	}{
		{
			name:     "valid",
			args:     []string{"config", "validate", valid},
			wantCode: ExitSuccess,
			contains: []string{"is valid"},
		},
		{
			name:     "violations",
			args:     []string{"config", "validate", invalid},
			wantCode: ExitFailure,
			contains: []string{"✗", "line 1", "line 2"},
		},
		{
			name:     "missing file",
			args:     []string{"config", "validate", filepath.Join(dir, "absent.yaml")},
			wantCode: ExitCommandError,
			contains: []string{"Error [E002]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, tt.args...)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestConfigValidate_JSON(t *testing.T) {
	invalid := writeFile(t, t.TempDir(), "invalid.yaml", "colour: blue\n")

	out, err := executeCommand(t, "config", "validate", invalid, "--format", "json")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ConfigValidation `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Error.Code)
	require.NotEmpty(t, resp.Data.Issues)
	assert.Contains(t, resp.Data.Issues[0].Field, "colour")
	assert.Equal(t, 1, resp.Data.Issues[0].Line)
}

func TestConfigDefaults(t *testing.T) {
	out, err := executeCommand(t, "config", "defaults")
	require.NoError(t, err)
	assert.Contains(t, out, "engine: pebble\n")
	assert.Contains(t, out, "max_key_size: 60\n")
	assert.Contains(t, out, "max_value_size: 512\n")
	assert.Contains(t, out, "compaction_interval: 5s\n")
}

func TestConfigShow(t *testing.T) {
	path := writeFile(t, t.TempDir(), "store.yaml", "dir: /data\nin_memory: false\nmax_value_size: 2048\n")

	out, err := executeCommand(t, "config", "show", "--config", path, "--engine", "sqlite", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   configView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "sqlite", resp.Data.Engine)
	assert.Equal(t, "/data", resp.Data.Dir)
	assert.False(t, resp.Data.InMemory)
	assert.Equal(t, 2048, resp.Data.MaxValueSize)
	assert.Equal(t, "5s", resp.Data.CompactionInterval)
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "store.yaml", "engine: rocksdb\n")
	_, err := executeCommand(t, "config", "show", "--config", path)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
