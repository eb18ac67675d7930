// Package logging provides the structured logger and the request-scoped
// context keys used to attribute log lines to a user, role and trace.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// UserIDKey carries the authenticated subject id in a request context.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the authenticated role in a request context.
	RoleKey contextKey = "role"
	// TraceIDKey carries the per-request trace id.
	TraceIDKey contextKey = "trace_id"
)

// Logger wraps logrus with service-wide fields and context helpers.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named service. Format is "json" or "text";
// unknown levels fall back to info.
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	return &Logger{entry: l.WithField("service", service)}
}

// SetOutput redirects log output, mainly for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// WithContext returns a logger annotated with the user id, role and trace id
// found in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	entry := l.entry
	if v := GetUserID(ctx); v != "" {
		entry = entry.WithField("user_id", v)
	}
	if v := GetRole(ctx); v != "" {
		entry = entry.WithField("role", v)
	}
	if v := GetTraceID(ctx); v != "" {
		entry = entry.WithField("trace_id", v)
	}
	return &Logger{entry: entry}
}

// WithError annotates the logger with an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// WithFields annotates the logger with arbitrary fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// LogRequest writes the standard access log line for a completed request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}).Info("request completed")
}

// LogSecurityEvent records an authentication or authorization event.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).WithFields(map[string]interface{}{
		"security_event": event,
	}).Warn("security event")
}

// WithUserID returns a context carrying the authenticated subject id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the subject id from ctx, or "".
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRole returns a context carrying the authenticated role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole extracts the role from ctx, or "".
func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(RoleKey).(string); ok {
		return v
	}
	return ""
}

// WithTraceID returns a context carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace id from ctx, or "".
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// NewTraceID generates a fresh trace id.
func NewTraceID() string {
	return uuid.NewString()
}
