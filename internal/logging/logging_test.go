package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "json", Level: slog.LevelInfo, Output: &buf})

	logger.Debug("hidden")
	logger.Info("vm started", "vm", "alpha")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "vm started", record["msg"])
	assert.Equal(t, "alpha", record["vm"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Level: slog.LevelDebug, Output: &buf})

	logger.Debug("attach done", "device", "/dev/disk4")

	out := buf.String()
	assert.Contains(t, out, "attach done")
	assert.Contains(t, out, "device=/dev/disk4")
	// Non-terminal output must not carry ANSI color codes.
	assert.NotContains(t, out, "\x1b[")
}

func TestDefaultOptions(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.Output = &buf
	logger := New(opts)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
