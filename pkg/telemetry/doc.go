// Package telemetry bootstraps OpenTelemetry tracing and exposes the
// metric instruments recorded by the reliability engine.
package telemetry
