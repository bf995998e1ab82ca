// Package appctx carries the request-scoped logger through context.
package appctx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger returns ctx carrying l.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// With returns ctx whose logger has args appended, for fields that become
// known part way through a request such as user_id.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, GetLogger(ctx).With(args...))
}

// Logger reports the logger stored in ctx, if any.
func Logger(ctx context.Context) (*slog.Logger, bool) {
	l, _ := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, l != nil
}

// GetLogger returns the request logger, falling back to slog.Default.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := Logger(ctx); ok {
		return l
	}
	return slog.Default()
}
