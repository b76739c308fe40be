package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels the result of one fallback attempt.
type Outcome string

const (
	// OutcomeSuccess marks a successful attempt.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure marks a failed attempt.
	OutcomeFailure Outcome = "failure"
	// OutcomeTimeout marks an attempt that exceeded its timeout.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCircuitOpen marks a candidate skipped by its breaker.
	OutcomeCircuitOpen Outcome = "circuit_open"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	attemptCounter   metric.Int64Counter
	attemptLatency   metric.Float64Histogram
	circuitSkips     metric.Int64Counter
	timeoutCounter   metric.Int64Counter
	exhaustedCounter metric.Int64Counter
	probeCounter     metric.Int64Counter
)

// AttemptMetrics captures the fields recorded per fallback attempt.
type AttemptMetrics struct {
	GroupID   string
	SourceID  string
	Operation string
	Outcome   Outcome
	Duration  time.Duration
}

// RecordAttempt emits counters and the latency histogram for one attempt.
func RecordAttempt(ctx context.Context, m AttemptMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("group.id", m.GroupID),
		attribute.String("source.id", m.SourceID),
		attribute.String("operation.name", m.Operation),
		attribute.String("attempt.outcome", string(m.Outcome)),
	}

	attemptCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		attemptLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	switch m.Outcome {
	case OutcomeCircuitOpen:
		circuitSkips.Add(ctx, 1, metric.WithAttributes(attrs...))
	case OutcomeTimeout:
		timeoutCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordExhausted emits the counter for a fallback call where every
// candidate failed.
func RecordExhausted(ctx context.Context, groupID, operation string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	exhaustedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("group.id", groupID),
		attribute.String("operation.name", operation),
	))
}

// RecordProbe emits the health probe verdict counter.
func RecordProbe(ctx context.Context, sourceID string, healthy bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	probeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source.id", sourceID),
		attribute.Bool("probe.healthy", healthy),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("reliability.engine")

		attemptCounter, metricsInitErr = meter.Int64Counter(
			"reliability.attempts_total",
			metric.WithDescription("Fallback attempts partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		attemptLatency, metricsInitErr = meter.Float64Histogram(
			"reliability.attempt_duration_ms",
			metric.WithDescription("Fallback attempt latency in milliseconds"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		circuitSkips, metricsInitErr = meter.Int64Counter(
			"reliability.circuit_open_total",
			metric.WithDescription("Candidates skipped because their circuit breaker was open"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		timeoutCounter, metricsInitErr = meter.Int64Counter(
			"reliability.timeouts_total",
			metric.WithDescription("Attempts that exceeded their timeout"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		exhaustedCounter, metricsInitErr = meter.Int64Counter(
			"reliability.fallback_exhausted_total",
			metric.WithDescription("Fallback calls where every candidate failed"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		probeCounter, metricsInitErr = meter.Int64Counter(
			"reliability.probes_total",
			metric.WithDescription("Health probe verdicts"),
			metric.WithUnit("{count}"),
		)
	})
	return metricsInitErr
}
