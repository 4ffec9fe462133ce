// Package appctx holds well-known context keys shared across the engine,
// so request-scoped identity (correlation id) can cross package
// boundaries without an import cycle on any single owning package.
package appctx

import (
	"context"

	"github.com/google/uuid"
)

type key string

const correlationIDKey key = "correlation_id"

// WithCorrelationID attaches a correlation id to ctx, generating one if id
// is empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id carried by ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
