package logger

import "context"

// contextKey is unexported so no other package can collide with our
// context values.
type contextKey struct{}

// requestIDKey carries the request ID through a context.
var requestIDKey = contextKey{}

// WithRequestID stores the request ID on a derived context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or "" if none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
