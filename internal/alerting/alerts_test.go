package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PROM8EUS/reliability/internal/stats"
)

func newTestEngine() *Engine {
	return NewEngine(Config{
		LatencyWarning:  100 * time.Millisecond,
		LatencyCritical: 500 * time.Millisecond,
		Cooldown:        time.Minute,
	})
}

func TestObserveFailureRaisesErrorRateAlert(t *testing.T) {
	e := newTestEngine()
	e.Observe(stats.Metric{
		SourceID:     "api",
		Operation:    "fetch",
		Timestamp:    time.Now(),
		ResponseTime: 10 * time.Millisecond,
		Success:      false,
		ErrorMessage: "connection refused",
	})

	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TypeErrorRate, active[0].Type)
	assert.Equal(t, SeverityError, active[0].Severity)
	assert.Contains(t, active[0].Message, "connection refused")
	assert.NotEmpty(t, active[0].ID)
}

func TestObserveLatencyThresholds(t *testing.T) {
	e := newTestEngine()
	now := time.Now()

	// Below warning: silence.
	e.Observe(stats.Metric{SourceID: "api", Operation: "a", Timestamp: now, ResponseTime: 50 * time.Millisecond, Success: true})
	assert.Empty(t, e.Active())

	// At the warning threshold.
	e.Observe(stats.Metric{SourceID: "api", Operation: "b", Timestamp: now, ResponseTime: 100 * time.Millisecond, Success: true})
	active := e.Active()
	require.Len(t, active, 1)
	assert.Equal(t, TypeLatency, active[0].Type)
	assert.Equal(t, SeverityWarning, active[0].Severity)

	// At the critical threshold only the critical alert fires.
	e.Observe(stats.Metric{SourceID: "api", Operation: "c", Timestamp: now.Add(time.Second), ResponseTime: 500 * time.Millisecond, Success: true})
	active = e.Active()
	require.Len(t, active, 2)
	assert.Equal(t, SeverityCritical, active[0].Severity)
}

func TestObserveSlowFailureRaisesBoth(t *testing.T) {
	e := newTestEngine()
	e.Observe(stats.Metric{
		SourceID:     "api",
		Operation:    "fetch",
		Timestamp:    time.Now(),
		ResponseTime: time.Second,
		Success:      false,
	})

	active := e.Active()
	require.Len(t, active, 2)
	types := []Type{active[0].Type, active[1].Type}
	assert.Contains(t, types, TypeErrorRate)
	assert.Contains(t, types, TypeLatency)
}

func TestCooldownSuppressesDuplicates(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	fail := func(at time.Time, op string) {
		e.Observe(stats.Metric{SourceID: "api", Operation: op, Timestamp: at, ResponseTime: time.Millisecond, Success: false})
	}

	fail(base, "fetch")
	fail(base.Add(30*time.Second), "fetch")
	assert.Len(t, e.Active(), 1)

	// A different operation has its own cooldown key.
	fail(base.Add(30*time.Second), "list")
	assert.Len(t, e.Active(), 2)

	// Past the cooldown the same key fires again.
	fail(base.Add(61*time.Second), "fetch")
	assert.Len(t, e.Active(), 3)
}

func TestActiveNewestFirst(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	e.Observe(stats.Metric{SourceID: "old", Operation: "x", Timestamp: base, ResponseTime: time.Millisecond, Success: false})
	e.Observe(stats.Metric{SourceID: "new", Operation: "x", Timestamp: base.Add(time.Second), ResponseTime: time.Millisecond, Success: false})

	active := e.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "new", active[0].SourceID)
	assert.Equal(t, "old", active[1].SourceID)
}

func TestResolveIsIdempotent(t *testing.T) {
	e := newTestEngine()
	e.Observe(stats.Metric{SourceID: "api", Operation: "fetch", Timestamp: time.Now(), ResponseTime: time.Millisecond, Success: false})
	active := e.Active()
	require.Len(t, active, 1)
	id := active[0].ID

	assert.True(t, e.Resolve(id))
	assert.Empty(t, e.Active())

	// Resolving again succeeds but must not move the resolution time.
	assert.True(t, e.Resolve(id))
	assert.Empty(t, e.Active())

	assert.False(t, e.Resolve("no-such-alert"))
}

func TestAlertsNeverAutoResolve(t *testing.T) {
	e := newTestEngine()
	e.Observe(stats.Metric{SourceID: "api", Operation: "fetch", Timestamp: time.Now(), ResponseTime: time.Millisecond, Success: false})

	// A healthy follow-up metric leaves the alert active.
	e.Observe(stats.Metric{SourceID: "api", Operation: "fetch", Timestamp: time.Now(), ResponseTime: time.Millisecond, Success: true})
	assert.Len(t, e.Active(), 1)
}

func TestSweepDropsExpiredAlerts(t *testing.T) {
	e := NewEngine(Config{Retention: time.Hour, Cooldown: time.Millisecond})
	now := time.Now()
	e.Observe(stats.Metric{SourceID: "api", Operation: "old", Timestamp: now.Add(-2 * time.Hour), ResponseTime: time.Millisecond, Success: false})
	e.Observe(stats.Metric{SourceID: "api", Operation: "new", Timestamp: now, ResponseTime: time.Millisecond, Success: false})

	dropped := e.Sweep(now)
	assert.Equal(t, 1, dropped)
	assert.Len(t, e.Active(), 1)
}
