package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"
)

// ContextKey is the type of request-scoped values set by the API middleware.
type ContextKey string

const (
	// SubjectContextKey holds the authenticated token subject.
	SubjectContextKey ContextKey = "subject"

	// TraceIDKey holds the request trace ID.
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of random bytes in a trace ID (32 hex characters).
	TraceIDLength = 16
)

// SetTraceID adds a fresh trace ID to ctx.
func SetTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, "")
}

// WithTraceID stores traceID in ctx, generating one when it is empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = generateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID stored in ctx, or "".
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// SetSubject stores the authenticated subject in ctx.
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectContextKey, subject)
}

// GetSubject returns the authenticated subject, if any.
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	if !ok || subject == "" {
		return "", false
	}
	return subject, true
}

func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if n, err := rand.Read(b); err != nil || n != TraceIDLength {
		slog.Error("failed to generate secure random trace ID",
			"error", err,
			"bytes_read", n,
			"fallback", "uuid")
		// A v4 UUID without dashes has the same 32-character shape.
		id := uuid.New()
		return hex.EncodeToString(id[:])
	}
	return hex.EncodeToString(b)
}
