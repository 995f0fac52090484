// Package logging builds the zap logger and carries request-scoped loggers through contexts.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

// New returns a development console logger for the local env and a JSON production logger otherwise.
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "local" || env == "test" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// WithRequestID stores a logger tagged with the request id in ctx.
func WithRequestID(ctx context.Context, base *zap.Logger, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, base.With(zap.String("request_id", requestID)))
}

// FromContext returns the request logger in ctx, or base when there is none.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return base
}
