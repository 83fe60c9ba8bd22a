// Package tracing wraps OpenTelemetry so the queue can record spans for pump
// activations and task executions. Without Init the global no-op provider is
// used and every helper is safe to call.
package tracing
