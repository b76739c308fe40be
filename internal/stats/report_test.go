package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportAggregation(t *testing.T) {
	c := NewCollector(Options{})
	now := time.Now()

	for _, l := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond} {
		c.Record(Metric{SourceID: "fast", Timestamp: now, ResponseTime: l, Success: true})
	}
	c.Record(Metric{SourceID: "slow", Timestamp: now, ResponseTime: 60 * time.Millisecond, Success: false})

	rep := c.Report(now.Add(-time.Hour), now.Add(time.Hour))
	assert.Equal(t, 3, rep.TotalRequests)
	assert.InDelta(t, 2.0/3.0, rep.OverallSuccessRate, 1e-9)
	// Weighted by request count: (15*2 + 60*1) / 3.
	assert.InDelta(t, 30.0, rep.AvgResponseTime, 1e-9)

	require.Len(t, rep.Fastest, 2)
	assert.Equal(t, "fast", rep.Fastest[0].SourceID)
	require.Len(t, rep.Slowest, 2)
	assert.Equal(t, "slow", rep.Slowest[0].SourceID)
}

func TestReportExcludesRecordsOutsideRange(t *testing.T) {
	c := NewCollector(Options{})
	now := time.Now()
	c.Record(Metric{SourceID: "api", Timestamp: now.Add(-3 * time.Hour), ResponseTime: time.Millisecond, Success: true})
	c.Record(Metric{SourceID: "api", Timestamp: now, ResponseTime: time.Millisecond, Success: true})

	rep := c.Report(now.Add(-time.Hour), now.Add(time.Minute))
	assert.Equal(t, 1, rep.TotalRequests)
}

func TestReportRecommendations(t *testing.T) {
	c := NewCollector(Options{})
	now := time.Now()

	// High error rate on one source, slow averages on another.
	for i := 0; i < 10; i++ {
		c.Record(Metric{SourceID: "flaky", Timestamp: now, ResponseTime: 10 * time.Millisecond, Success: i%2 == 0})
	}
	c.Record(Metric{SourceID: "sluggish", Timestamp: now, ResponseTime: 3 * time.Second, Success: true})

	rep := c.Report(now.Add(-time.Hour), now.Add(time.Hour))
	require.Len(t, rep.Recommendations, 2)
	assert.Contains(t, rep.Recommendations[0], "flaky")
	assert.Contains(t, rep.Recommendations[0], "error rate")
	assert.Contains(t, rep.Recommendations[1], "sluggish")
}

func TestReportFlagsAllMissCache(t *testing.T) {
	c := NewCollector(Options{})
	now := time.Now()
	miss := false

	// Every cache lookup missed: hit rate is exactly 0%, the worst case.
	for i := 0; i < 4; i++ {
		c.Record(Metric{SourceID: "cold", Timestamp: now, ResponseTime: 10 * time.Millisecond, Success: true, CacheHit: &miss})
	}
	// A source with no cache verdicts at all must not be flagged.
	c.Record(Metric{SourceID: "uncached", Timestamp: now, ResponseTime: 10 * time.Millisecond, Success: true})

	rep := c.Report(now.Add(-time.Hour), now.Add(time.Hour))
	require.Len(t, rep.Recommendations, 1)
	assert.Contains(t, rep.Recommendations[0], "cold")
	assert.Contains(t, rep.Recommendations[0], "cache hit rate")
}

func TestReportEmpty(t *testing.T) {
	c := NewCollector(Options{})
	rep := c.Report(time.Now().Add(-time.Hour), time.Now())
	assert.Zero(t, rep.TotalRequests)
	assert.Empty(t, rep.Sources)
	assert.Empty(t, rep.Recommendations)
}
