// Package obscontext carries correlation identifiers through request contexts.
package obscontext

import (
	"context"
	"strings"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// Gin context keys set by handlers and read by the request middlewares.
const (
	KeyRequestID = "request_id"
	KeyProductID = "product_id"
	KeySource    = "source"
)

// Sources a ledger mutation can arrive from over HTTP.
const (
	SourceAPI          = "api"
	SourceNotification = "notification"
)
