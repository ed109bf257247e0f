// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// ActorIDKey is the context key for the acting user ID
	ActorIDKey contextKey = "actor_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with request_id and actor_id extracted
// from the context when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if actorID, ok := ctx.Value(ActorIDKey).(string); ok && actorID != "" {
		newLogger = newLogger.WithActorID(actorID)
	}

	return newLogger
}

// WithActorID returns a logger with the acting user ID attached.
func (l *Logger) WithActorID(actorID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("actor_id", actorID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// StageTransition logs a pipeline stage transition.
func (l *Logger) StageTransition(entityType, entityID, fromStage, toStage, actionType string) {
	l.Info("stage_transition",
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
		slog.String("from_stage", fromStage),
		slog.String("to_stage", toStage),
		slog.String("action_type", actionType),
	)
}

// ActionResolved logs a validation gate decision on a pipeline action.
func (l *Logger) ActionResolved(actionID, actionType, decision, actorID string) {
	l.Info("action_resolved",
		slog.String("action_id", actionID),
		slog.String("action_type", actionType),
		slog.String("decision", decision),
		slog.String("actor_id", actorID),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}

// NotifyFailure logs a best-effort notification failure. Notification
// delivery never fails the primary operation.
func (l *Logger) NotifyFailure(event string, err error) {
	l.Warn("notify_failure",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}
