// Package logger provides structured logging utilities.
package logger

import (
	"context"
	"log/slog"
	"os"

	appctx "github.com/opsfabric/activator/internal/pkg/context"
)

// Logger wraps slog.Logger with additional context.
type Logger struct {
	*slog.Logger
}

// New creates a new logger with the specified level and format.
func New(level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger carrying the query identity stored in ctx.
// Contexts without one get the logger back unchanged.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	log := l.Logger
	if queryID := appctx.GetQueryID(ctx); queryID != "" {
		log = log.With("query_id", queryID)
	}
	if site := appctx.GetSite(ctx); site != "" {
		log = log.With("site", site)
	}
	if log == l.Logger {
		return l
	}
	return &Logger{Logger: log}
}

// WithLayer returns a logger with backend-layer context.
func (l *Logger) WithLayer(layer string) *Logger {
	return &Logger{
		Logger: l.With("layer", layer),
	}
}

// WithQuery returns a logger carrying a query identity.
func (l *Logger) WithQuery(queryID string) *Logger {
	return &Logger{
		Logger: l.With("query_id", queryID),
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns the default logger.
func Default() *Logger {
	return New("info", "text")
}
