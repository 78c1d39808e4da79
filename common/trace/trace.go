// Package trace provides request ID generation and context propagation so that
// every log line emitted while serving a request can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Header is the HTTP header used to accept and echo request IDs.
const Header = "X-Request-ID"

// maxIncomingIDLen bounds caller-supplied IDs so a client cannot inflate logs.
const maxIncomingIDLen = 128

type traceKey struct{}

// GenerateID returns a new random trace ID of the form "t_<32 hex chars>".
func GenerateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// FromIncoming returns the caller-supplied ID when it is usable, otherwise a
// freshly generated one.
func FromIncoming(id string) string {
	if id == "" || len(id) > maxIncomingIDLen {
		return GenerateID()
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return GenerateID()
		}
	}
	return id
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
