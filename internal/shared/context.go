// Package shared carries request-scoped metadata across package boundaries
// without importing the HTTP layer.
package shared

import "context"

// Context keys for request-scoped data. Keep types unexported to avoid collisions.
type ctxKey string

const ctxKeyRequestMeta ctxKey = "request-meta"

// RequestMeta describes the inbound request an operation runs for
type RequestMeta struct {
	RequestID string
	ClientIP  string
	UserAgent string
}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, ctxKeyRequestMeta, meta)
}

func RequestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	v, ok := ctx.Value(ctxKeyRequestMeta).(RequestMeta)
	return v, ok
}

// RequestID returns the request id from ctx, or "" when absent
func RequestID(ctx context.Context) string {
	meta, _ := RequestMetaFrom(ctx)
	return meta.RequestID
}
