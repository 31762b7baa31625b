// Package logger provides the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"go.temporal.io/sdk/log"
)

var (
	level = new(slog.LevelVar)

	// Log is the shared JSON logger.
	Log *slog.Logger
)

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	Log = slog.New(handler)
	SetLevel(os.Getenv("UCL_LOG_LEVEL"))
}

// SetLevel parses debug/info/warn/error. Unknown values select info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Component returns a child logger tagged with a component name.
func Component(name string) *slog.Logger {
	return Log.With("component", name)
}

type temporalLogger struct {
	l *slog.Logger
}

// NewTemporalLogger adapts the shared logger to the Temporal SDK.
func NewTemporalLogger() log.Logger {
	return &temporalLogger{l: Component("temporal")}
}

func (t *temporalLogger) Debug(msg string, keyvals ...interface{}) { t.l.Debug(msg, keyvals...) }
func (t *temporalLogger) Info(msg string, keyvals ...interface{})  { t.l.Info(msg, keyvals...) }
func (t *temporalLogger) Warn(msg string, keyvals ...interface{})  { t.l.Warn(msg, keyvals...) }
func (t *temporalLogger) Error(msg string, keyvals ...interface{}) { t.l.Error(msg, keyvals...) }
