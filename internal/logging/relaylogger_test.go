package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/OCAP2/elsewhere/internal/relay"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both adapters must satisfy the registry's Logger interface.
var (
	_ relay.Logger = (*RelayLogger)(nil)
	_ relay.Logger = (*ZerologRelayLogger)(nil)
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse log output")
	return entry
}

func TestRelayLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(l *RelayLogger)
	}{
		{"DEBUG", func(l *RelayLogger) { l.Debug("msg", "channel", "a") }},
		{"INFO", func(l *RelayLogger) { l.Info("msg", "channel", "a") }},
		{"WARN", func(l *RelayLogger) { l.Warn("msg", "channel", "a") }},
		{"ERROR", func(l *RelayLogger) { l.Error("msg", "channel", "a") }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			tt.log(NewRelayLogger(logger))

			entry := decode(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "msg", entry["msg"])
			assert.Equal(t, "a", entry["channel"])
			assert.Equal(t, "relay", entry["component"])
		})
	}
}

func TestRelayLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	rl := NewRelayLogger(logger)

	rl.Debug("hidden")
	rl.Info("hidden")
	assert.Empty(t, buf.String())

	rl.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestZerologRelayLogger_Warn(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZerologRelayLogger(zerolog.New(&buf))

	zl.Warn("tried to register receiver twice",
		"channel", "tooltip", "anomaly", "duplicate_register", "error", relay.ErrAlreadyRegistered)

	entry := decode(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "tried to register receiver twice", entry["message"])
	assert.Equal(t, "tooltip", entry["channel"])
	assert.Equal(t, "duplicate_register", entry["anomaly"])
	assert.Equal(t, relay.ErrAlreadyRegistered.Error(), entry["error"])
	assert.Equal(t, "relay", entry["component"])
}

func TestZerologRelayLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZerologRelayLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	zl.Debug("filtered")
	assert.Empty(t, buf.String())

	zl.Info("kept", "count", 2)
	entry := decode(t, &buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(2), entry["count"]) // JSON numbers are float64

	buf.Reset()
	zl.Error("failed", "error", errors.New("boom"))
	entry = decode(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["error"])
}

func TestToFields(t *testing.T) {
	fields := toFields([]any{"a", 1, 42, "ignored", "b", "two", "dangling"})

	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, fields)
}
