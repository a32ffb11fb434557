// Package tracing is a thin wrapper around OpenTelemetry so that the rest
// of the code-base can open and close spans without importing the
// upstream packages directly. Applications that do not initialise an
// exporter get no-op spans.
package tracing
