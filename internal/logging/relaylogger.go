package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// RelayLogger adapts *slog.Logger to the relay.Logger interface.
type RelayLogger struct {
	logger *slog.Logger
}

// NewRelayLogger creates a new RelayLogger wrapping a slog.Logger.
func NewRelayLogger(logger *slog.Logger) *RelayLogger {
	return &RelayLogger{logger: logger.With("component", "relay")}
}

func (l *RelayLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, keysAndValues...)
}

func (l *RelayLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, keysAndValues...)
}

func (l *RelayLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, keysAndValues...)
}

func (l *RelayLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, keysAndValues...)
}

// ZerologRelayLogger adapts zerolog.Logger to the relay.Logger interface.
type ZerologRelayLogger struct {
	logger zerolog.Logger
}

// NewZerologRelayLogger creates a new ZerologRelayLogger wrapping a zerolog.Logger.
func NewZerologRelayLogger(logger zerolog.Logger) *ZerologRelayLogger {
	return &ZerologRelayLogger{logger: logger.With().Str("component", "relay").Logger()}
}

// Debug logs a debug message with optional key-value pairs.
func (l *ZerologRelayLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

// Info logs an info message with optional key-value pairs.
func (l *ZerologRelayLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

// Warn logs a warning with optional key-value pairs.
func (l *ZerologRelayLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn().Fields(toFields(keysAndValues)).Msg(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *ZerologRelayLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields converts key-value pairs to a map for zerolog.
// Errors are stored as their message so they serialize readably.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr && err != nil {
			fields[key] = err.Error()
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
