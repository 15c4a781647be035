// Package observability provides structured logging helpers for the agent.
//
// It wraps log/slog with trace ID propagation so that every log line emitted
// while executing a task carries the task's correlation context.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/majorhost/taskexec/common/trace"
)

// Setup configures the global slog logger according to the provided level and
// format strings (e.g. level="info", format="json").
func Setup(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithTrace returns a child of log that always includes the trace_id from
// ctx. A nil log falls back to the default logger.
func WithTrace(ctx context.Context, log *slog.Logger) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return log
	}
	return log.With("trace_id", traceID)
}
