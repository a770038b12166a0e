// Package logger provides structured logging for the progression engine.
// It wraps zap with environment-aware construction, context propagation
// and domain field helpers.
package logger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a new zap.Logger depending on the environment.
// Production gets the JSON encoder, everything else the console one.
// An empty or unknown level keeps the config's default.
func New(env, level string) *zap.Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if lvl, ok := ParseLevel(level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// ParseLevel parses a string into a zap level.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel, true
	case "INFO":
		return zapcore.InfoLevel, true
	case "WARN", "WARNING":
		return zapcore.WarnLevel, true
	case "ERROR":
		return zapcore.ErrorLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// ctxKey is the key for storing logger in context.
type ctxKey struct{}

// WithContext adds the logger to the context.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context.
// Returns a no-op logger if none is set.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// FromContextOr retrieves the logger from context, or returns fallback.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// Domain-specific field helpers.
func UserID(id string) zap.Field      { return zap.String("user_id", id) }
func TaskID(id string) zap.Field      { return zap.String("task_id", id) }
func EventID(id string) zap.Field     { return zap.String("event_id", id) }
func ScopeID(id string) zap.Field     { return zap.String("scope_id", id) }
func XPAmount(xp int) zap.Field       { return zap.Int("xp_amount", xp) }
func Component(name string) zap.Field { return zap.String("component", name) }
func Operation(name string) zap.Field { return zap.String("operation", name) }
func RequestID(id string) zap.Field   { return zap.String("request_id", id) }
func Latency(d time.Duration) zap.Field {
	return zap.Duration("latency", d)
}
