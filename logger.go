package hloc

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with localization-specific helpers.
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
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithQuery adds the query index and name.
func (l *Logger) WithQuery(index int, name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("query", index, "name", name),
	}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// LogSetup logs map loading and index construction.
func (l *Logger) LogSetup(ctx context.Context, images, points, rows int, elapsed time.Duration) {
	l.InfoContext(ctx, "localizer ready",
		"images", images,
		"points", points,
		"global_rows", rows,
		"elapsed", elapsed,
	)
}

// LogQuery logs the outcome of one query.
func (l *Logger) LogQuery(ctx context.Context, r Result) {
	if r.Err != nil {
		l.WarnContext(ctx, "localization failed",
			"correspondences", r.Matches.Len(),
			"inliers", r.Estimate.NumInliers,
			"reason", ReasonOf(r.Err),
			"error", r.Err,
		)
		return
	}
	l.DebugContext(ctx, "query localized",
		"neighbors", len(r.Neighbors),
		"clusters", r.Clusters,
		"correspondences", r.Matches.Len(),
		"inliers", r.Estimate.NumInliers,
		"inlier_ratio", r.Estimate.InlierRatio,
		"center", r.Estimate.Center,
		"elapsed", r.Duration,
	)
}

// LogBatch logs a completed batch.
func (l *Logger) LogBatch(ctx context.Context, total, failed int, elapsed time.Duration) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"total", total,
			"failed", failed,
			"localized", total-failed,
			"elapsed", elapsed,
		)
		return
	}
	l.InfoContext(ctx, "batch completed",
		"total", total,
		"elapsed", elapsed,
	)
}
