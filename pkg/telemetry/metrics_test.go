package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordAttempt(t *testing.T) {
	reader := setupManualReader(t)
	ctx := context.Background()

	RecordAttempt(ctx, AttemptMetrics{
		GroupID:   "market-data",
		SourceID:  "primary",
		Operation: "fetch",
		Outcome:   OutcomeTimeout,
		Duration:  150 * time.Millisecond,
	})

	metrics := collectMetrics(t, reader)

	attempts, ok := metrics["reliability.attempts_total"]
	if !ok {
		t.Fatalf("missing reliability.attempts_total metric")
	}
	attemptData, ok := attempts.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for attempts metric")
	}
	if len(attemptData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(attemptData.DataPoints))
	}
	if attemptData.DataPoints[0].Value != 1 {
		t.Fatalf("expected attempt count 1, got %d", attemptData.DataPoints[0].Value)
	}
	if value, ok := attemptData.DataPoints[0].Attributes.Value(attribute.Key("attempt.outcome")); !ok || value.AsString() != "timeout" {
		t.Fatalf("expected attempt.outcome timeout, got %v", value)
	}
	if value, ok := attemptData.DataPoints[0].Attributes.Value(attribute.Key("source.id")); !ok || value.AsString() != "primary" {
		t.Fatalf("expected source.id primary, got %v", value)
	}

	timeouts, ok := metrics["reliability.timeouts_total"]
	if !ok {
		t.Fatalf("missing reliability.timeouts_total metric")
	}
	timeoutData := timeouts.Data.(metricdata.Sum[int64])
	if timeoutData.DataPoints[0].Value != 1 {
		t.Fatalf("expected timeout count 1, got %d", timeoutData.DataPoints[0].Value)
	}

	latency, ok := metrics["reliability.attempt_duration_ms"]
	if !ok {
		t.Fatalf("missing reliability.attempt_duration_ms metric")
	}
	histData, ok := latency.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type for latency metric")
	}
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected 1 latency observation, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected 150ms observed, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordAttemptCircuitOpenSkipsLatency(t *testing.T) {
	reader := setupManualReader(t)

	RecordAttempt(context.Background(), AttemptMetrics{
		GroupID:   "market-data",
		SourceID:  "primary",
		Operation: "fetch",
		Outcome:   OutcomeCircuitOpen,
	})

	metrics := collectMetrics(t, reader)

	skips, ok := metrics["reliability.circuit_open_total"]
	if !ok {
		t.Fatalf("missing reliability.circuit_open_total metric")
	}
	if skips.Data.(metricdata.Sum[int64]).DataPoints[0].Value != 1 {
		t.Fatalf("expected 1 circuit-open skip")
	}
	if _, ok := metrics["reliability.attempt_duration_ms"]; ok {
		t.Fatalf("zero-duration attempt must not record latency")
	}
}

func TestRecordExhausted(t *testing.T) {
	reader := setupManualReader(t)

	RecordExhausted(context.Background(), "market-data", "fetch")

	metrics := collectMetrics(t, reader)
	exhausted, ok := metrics["reliability.fallback_exhausted_total"]
	if !ok {
		t.Fatalf("missing reliability.fallback_exhausted_total metric")
	}
	data := exhausted.Data.(metricdata.Sum[int64])
	if data.DataPoints[0].Value != 1 {
		t.Fatalf("expected exhausted count 1, got %d", data.DataPoints[0].Value)
	}
	if value, ok := data.DataPoints[0].Attributes.Value(attribute.Key("group.id")); !ok || value.AsString() != "market-data" {
		t.Fatalf("expected group.id market-data, got %v", value)
	}
}

func TestRecordProbe(t *testing.T) {
	reader := setupManualReader(t)

	RecordProbe(context.Background(), "primary", true)
	RecordProbe(context.Background(), "primary", false)

	metrics := collectMetrics(t, reader)
	probes, ok := metrics["reliability.probes_total"]
	if !ok {
		t.Fatalf("missing reliability.probes_total metric")
	}
	data := probes.Data.(metricdata.Sum[int64])
	if len(data.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints (per verdict), got %d", len(data.DataPoints))
	}
}
