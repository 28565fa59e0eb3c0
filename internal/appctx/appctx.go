// Package appctx carries request-scoped values through context.
package appctx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger from the context (if present).
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, ok && l != nil
}

// GetLogger returns the logger from the context, or slog.Default() if missing.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := LoggerFromContext(ctx); ok {
		return l
	}
	return slog.Default()
}

type usernameKey struct{}
type usernameHolderKey struct{}

type usernameHolder struct{ v string }

// TrackUsername installs a slot the access logger can read after the
// handler returned, even though auth binds the username further down the
// middleware chain on a derived context.
func TrackUsername(ctx context.Context) context.Context {
	return context.WithValue(ctx, usernameHolderKey{}, &usernameHolder{})
}

// WithUsername binds the authenticated username to the context and fills
// the tracking slot when one is installed upstream.
func WithUsername(ctx context.Context, username string) context.Context {
	if h, ok := ctx.Value(usernameHolderKey{}).(*usernameHolder); ok {
		h.v = username
	}
	return context.WithValue(ctx, usernameKey{}, username)
}

// Username returns the authenticated username, or "" before auth ran.
func Username(ctx context.Context) string {
	if u, ok := ctx.Value(usernameKey{}).(string); ok {
		return u
	}
	if h, ok := ctx.Value(usernameHolderKey{}).(*usernameHolder); ok {
		return h.v
	}
	return ""
}
