package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

// LoggerContextKey holds the request-scoped logger.
const LoggerContextKey ContextKey = "logger"

// IntoContext returns a copy of ctx carrying logger.
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext returns the request-scoped logger, or one over the slog
// default when the request did not pass through the trace middleware.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// StructuredLogger emits the fixed-shape events (request lifecycle, ledger
// writes, failures) so their fields stay consistent across packages.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogHTTPStart logs at debug; the completion line carries everything that
// matters at info.
func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, clientIP string) {
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"), r.Header.Get("Referer")).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.Logger.DebugContext(ctx, "HTTP request started", fields.ToSlice()...)
}

// LogHTTPEnd picks the level from the status: warn for 4xx, error for 5xx.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", "").
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

func (sl *StructuredLogger) LogExpenseCreated(ctx context.Context, id string, amountCents int64, category, source string) {
	fields := NewFields().
		WithExpense(id, amountCents, category, source).
		WithOperation(OpCreate).
		WithComponent(ComponentExpense)

	sl.logger.Logger.InfoContext(ctx, "Expense created", fields.ToSlice()...)
}

// LogImportConfirmed records a committed preview batch.
func (sl *StructuredLogger) LogImportConfirmed(ctx context.Context, previewID, source string, count int, totalCents int64) {
	fields := NewFields().
		WithOperation(OpConfirm).
		WithComponent(ComponentLedger)
	fields[FieldPreviewID] = previewID
	fields[FieldSource] = source
	fields[FieldCandidates] = count
	fields[FieldAmountCents] = totalCents

	sl.logger.Logger.InfoContext(ctx, "Import confirmed", fields.ToSlice()...)
}

// LogError logs err with its classification; extra may be nil.
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, errorType, operation string, extra LogFields) {
	fields := NewFields().
		WithError(err).
		WithErrorType(errorType).
		WithOperation(operation).
		WithComponent(sl.logger.Component())
	for k, v := range extra {
		fields[k] = v
	}

	sl.logger.Logger.ErrorContext(ctx, msg, fields.ToSlice()...)
}
