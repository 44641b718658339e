// Package observability builds the process logger and the OpenTelemetry
// tracer provider.
//
// Tracing is opt-in: with TRACING_ENABLED unset or no endpoint configured,
// SetupTracing leaves the global no-op provider in place.
package observability
