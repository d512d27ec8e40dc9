package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(InfoLevel, &buf)

	log.Component("engine").WithKey("leads").WithError(errors.New("boom")).Warn("load failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "load failed", entry["msg"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "leads", entry["key"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(WarnLevel, &buf)

	log.Debug("dropped")
	log.Infof("also %s", "dropped")
	assert.Empty(t, buf.Bytes())

	log.Errorf("kept %d", 1)
	assert.Contains(t, buf.String(), "kept 1")
}

func TestWithErrorNilIsNoop(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(InfoLevel, &buf)

	log.WithError(nil).Info("fine")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, present := entry["error"]
	assert.False(t, present)
}

func TestNopLoggerIsSafe(t *testing.T) {
	log := Nop()
	log.Component("x").WithFields(map[string]any{"a": 1}).Error("discarded")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.in), tt.in)
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
}
