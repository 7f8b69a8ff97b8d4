// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Middleware sets them; services and stores read them
// without importing net/http.
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	operatorIDKey    struct{}
	requestIDKey     struct{}
	requestTimeKey   struct{}
	scannerDeviceKey struct{}
)

// OperatorID retrieves the authenticated operator ID from the context.
// Returns the empty string if not set.
func OperatorID(ctx context.Context) string {
	if op, ok := ctx.Value(operatorIDKey{}).(string); ok {
		return op
	}
	return ""
}

// WithOperatorID injects an operator ID into the context.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorIDKey{}, operatorID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ScannerDevice retrieves the human-readable scanner device description
// parsed from the presenting client's User-Agent.
func ScannerDevice(ctx context.Context) string {
	if dev, ok := ctx.Value(scannerDeviceKey{}).(string); ok {
		return dev
	}
	return ""
}

// WithScannerDevice injects a scanner device description into the context.
func WithScannerDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, scannerDeviceKey{}, device)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests that don't run the full HTTP middleware chain.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
