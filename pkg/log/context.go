package log

import (
	"context"
	"math/rand/v2"
	"time"
)

type contextKey struct{}

// RequestContext carries per-request identity used for tracing and as the
// default actor/source of audit events.
type RequestContext struct {
	RequestID string
	ActorID   string
	SourceIP  string
	StartTime time.Time
}

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateRequestID returns a 10 character base36 id, e.g. mgrn0zfqda.
func GenerateRequestID() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[rand.IntN(len(base36Chars))]
	}
	return string(b)
}

// WithRequestContext stores request identity in ctx.
func WithRequestContext(ctx context.Context, requestID, actorID, sourceIP string) context.Context {
	return context.WithValue(ctx, contextKey{}, &RequestContext{
		RequestID: requestID,
		ActorID:   actorID,
		SourceIP:  sourceIP,
		StartTime: time.Now(),
	})
}

// GetRequestContext returns the request identity stored in ctx, or an empty
// one with RequestID "unknown".
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(contextKey{}).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID returns the request id stored in ctx.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetActorID returns the authenticated actor stored in ctx, if any.
func GetActorID(ctx context.Context) string {
	return GetRequestContext(ctx).ActorID
}

// GetSourceIP returns the caller address stored in ctx, if any.
func GetSourceIP(ctx context.Context) string {
	return GetRequestContext(ctx).SourceIP
}

// GetElapsedTime returns milliseconds since the request started.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
