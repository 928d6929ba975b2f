package ingress

import "context"

type contextKey int

const requestIDKey contextKey = iota

// ContextWithRequestID stores id in ctx for downstream handlers and logging.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID stored by the requestID
// middleware, or "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
