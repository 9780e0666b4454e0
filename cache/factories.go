package cache

import (
	"encoding/json"
	"log/slog"
)

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// Debug logs a debug message via slog.
func (sl *SlogLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

// Info logs an info message via slog.
func (sl *SlogLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

// Warn logs a warning message via slog.
func (sl *SlogLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

// Error logs an error message via slog.
func (sl *SlogLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// NewSlogLogger creates a Logger backed by the given slog logger.
// A nil logger falls back to slog.Default().
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// JSONMarshaller is a marshaller that uses the standard JSON library.
type JSONMarshaller struct{}

// Marshal serializes a value to JSON.
func (jm *JSONMarshaller) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes a value from JSON.
func (jm *JSONMarshaller) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewJSONMarshaller creates a new JSON marshaller.
func NewJSONMarshaller() Marshaller {
	return &JSONMarshaller{}
}
