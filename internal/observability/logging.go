// Package observability provides structured logging for the registry.
package observability

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[slog.Logger]

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	defaultLogger.Store(slog.New(handler))
}

// Logger returns the process-wide structured logger.
func Logger() *slog.Logger {
	return defaultLogger.Load()
}

// SetLogger replaces the process-wide logger. Tests use this to silence or
// capture output.
func SetLogger(l *slog.Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}
