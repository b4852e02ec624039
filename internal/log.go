package internal

import (
	"context"
	"log/slog"
)

type ctxKey int

const loggerKey ctxKey = iota

// WithLogger attaches a request-scoped logger to ctx, picked up by every
// Log(ctx) call downstream. Request middleware installs one per request
// carrying the request id; everything else falls back to slog.Default().
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// Log returns the logger attached to ctx, or the process default.
func Log(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
