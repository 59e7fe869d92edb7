package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		wantMsgs []string
	}{
		{name: "debug", level: "debug", wantMsgs: []string{"d", "i", "w", "e"}},
		{name: "info", level: "info", wantMsgs: []string{"i", "w", "e"}},
		{name: "warning alias", level: "WARNING", wantMsgs: []string{"w", "e"}},
		{name: "error", level: "error", wantMsgs: []string{"e"}},
		{name: "unknown defaults to info", level: "verbose", wantMsgs: []string{"i", "w", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			var msgs []string
			for _, entry := range decodeLines(t, output) {
				msgs = append(msgs, entry["msg"].(string))
			}
			assert.Equal(t, tt.wantMsgs, msgs)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.Info("job admitted", slog.String("job_id", "j-1"), slog.Int("size", 42))

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "j-1", entries[0]["job_id"])
	assert.Equal(t, float64(42), entries[0]["size"])
	assert.Contains(t, entries[0], "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	logger.Info("worker started", slog.String("queue", "transcode-queue"))

	assert.Contains(t, output.String(), "worker started")
	assert.Contains(t, output.String(), "transcode-queue")
}

func TestNew_UnsupportedFormat(t *testing.T) {
	_, err := New(&Config{Format: "xml", writer: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestLogger_Component(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Format: "json", writer: output})
	require.NoError(t, err)

	logger.Component("admission").Info("hello")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "admission", entries[0]["component"])
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NoError(t, logger.Close())
}
