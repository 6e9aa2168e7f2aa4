package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

type ctxKey string

// ExecutionIDKey is the context key under which handlers store the
// current execution id for request-scoped logging.
const ExecutionIDKey ctxKey = "execution_id"

// Logger wraps slog.Logger with workflow-scoped helpers.
type Logger struct {
	*slog.Logger
}

// New creates a logger. Format "json" emits structured JSON; anything else
// gets a colored console handler for development.
func New(level, format string) *Logger {
	logLevel := parseLevel(level)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithContext returns a logger carrying the execution id from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if execID, ok := ctx.Value(ExecutionIDKey).(string); ok && execID != "" {
		return &Logger{Logger: l.With("execution_id", execID)}
	}
	return l
}

// WithExecutionID adds execution_id to all records.
func (l *Logger) WithExecutionID(executionID string) *Logger {
	return &Logger{Logger: l.With("execution_id", executionID)}
}

// WithWorkflowID adds workflow_id to all records.
func (l *Logger) WithWorkflowID(workflowID string) *Logger {
	return &Logger{Logger: l.With("workflow_id", workflowID)}
}

// WithBlockID adds block_id to all records.
func (l *Logger) WithBlockID(blockID string) *Logger {
	return &Logger{Logger: l.With("block_id", blockID)}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
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
