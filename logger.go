package photodex

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with photodex-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithTask adds a clustering task id field to the logger.
func (l *Logger) WithTask(taskID uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("task", taskID),
	}
}

// WithPhoto adds a photo id field to the logger.
func (l *Logger) WithPhoto(id uint32) *Logger {
	return &Logger{
		Logger: l.Logger.With("photo", id),
	}
}

// LogIngest logs a photo ingestion.
func (l *Logger) LogIngest(ctx context.Context, photoID uint32, faces int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"photo", photoID,
			"faces", faces,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "ingest completed",
			"photo", photoID,
			"faces", faces,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogClusterTask logs the outcome of a clustering task.
func (l *Logger) LogClusterTask(ctx context.Context, taskID uint32, clusters, noise int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "clustering task failed",
			"task", taskID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "clustering task completed",
			"task", taskID,
			"clusters", clusters,
			"noise", noise,
		)
	}
}
