// Package trace provides correlation ID generation and context propagation so
// that every log line and outcome report emitted while handling a task can be
// tied back to the originating queue message.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ctxKey is the unexported context key used to store the correlation ID.
type ctxKey struct{}

// NewID generates a unique correlation ID for tasks that arrive without one
// (scheduler-synthesized tasks, malformed messages).
func NewID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a timestamp-based ID if random fails (should never happen)
		return fmt.Sprintf("te_%d", time.Now().UnixNano())
	}
	return "te_" + hex.EncodeToString(bytes)
}

// WithID returns a child context carrying the given correlation ID.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the correlation ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
