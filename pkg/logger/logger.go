// Package logger holds the process-wide zap logger and the helpers that
// scope it through a context.
package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
)

// Log is the global logger. It is a no-op until Initialize is called.
var Log = zap.NewNop()

type contextKey int

const loggerKey contextKey = iota

// Initialize replaces Log with a JSON logger at level. Unknown levels fall
// back to info.
func Initialize(level string, fields ...zap.Field) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339Nano))
	}
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1), zap.Fields(fields...))
	if err != nil {
		return err
	}
	Log = l
	return nil
}

func Sync() {
	_ = Log.Sync()
}

func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the context logger, or Log, tagged with the request id
// when one is set.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}
	l := FromContextOr(ctx, Log)
	if id, err := tenant.RequestIDFromContext(ctx); err == nil {
		return l.With(zap.String("request_id", id))
	}
	return l
}

// FromContextOr returns the context logger or fallback. A nil fallback means Log.
func FromContextOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return Log
}
