// Package stats collects per-attempt performance metrics and derives
// rolling statistics and reports from them.
//
// Records are append-only and pruned by an age-based retention sweep;
// derived statistics are cached per (source, window) and invalidated as
// soon as a new metric for that source arrives.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metric is one immutable record of a completed operation attempt.
type Metric struct {
	ID           string        `json:"id"`
	SourceID     string        `json:"sourceId"`
	Operation    string        `json:"operation"`
	Timestamp    time.Time     `json:"timestamp"`
	ResponseTime time.Duration `json:"responseTime"`
	Success      bool          `json:"success"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	DataSize     int64         `json:"dataSize,omitempty"`
	CacheHit     *bool         `json:"cacheHit,omitempty"`
	RetryCount   int           `json:"retryCount,omitempty"`
}

// SourceStats is a derived snapshot of one source's behaviour over a
// time window.
type SourceStats struct {
	SourceID     string        `json:"sourceId"`
	Window       time.Duration `json:"window"`
	TotalCount   int           `json:"totalCount"`
	SuccessCount int           `json:"successCount"`
	ErrorCount   int           `json:"errorCount"`
	SuccessRate  float64       `json:"successRate"`
	ErrorRate    float64       `json:"errorRate"`

	// Latencies in milliseconds.
	AvgResponseTime    float64 `json:"avgResponseTime"`
	MedianResponseTime float64 `json:"medianResponseTime"`
	P95ResponseTime    float64 `json:"p95ResponseTime"`
	P99ResponseTime    float64 `json:"p99ResponseTime"`
	MinResponseTime    float64 `json:"minResponseTime"`
	MaxResponseTime    float64 `json:"maxResponseTime"`

	TotalBytes int64 `json:"totalBytes"`
	// CacheLookups counts metrics that reported a cache verdict;
	// CacheHitRate is meaningless when it is zero.
	CacheLookups int     `json:"cacheLookups"`
	CacheHitRate float64 `json:"cacheHitRate"`
	// Uptime is defined as the success rate over the window. This is a
	// deliberate simplification, not a true availability measurement.
	Uptime float64 `json:"uptime"`
}

type cacheKey struct {
	sourceID string
	window   time.Duration
}

// Collector stores metric records and computes statistics on demand.
// It is safe for concurrent use.
type Collector struct {
	retention     time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger

	mu      sync.RWMutex
	records []Metric
	cache   map[cacheKey]SourceStats
}

// Options configures a Collector.
type Options struct {
	// Retention is how long records are kept before the sweep evicts them.
	Retention time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// NewCollector creates a collector with the given options.
func NewCollector(opts Options) *Collector {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		logger:        logger,
		cache:         make(map[cacheKey]SourceStats),
	}
}

// Record appends a metric, filling in an ID and timestamp when missing,
// and invalidates cached statistics for the metric's source.
func (c *Collector) Record(m Metric) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, m)
	c.invalidateLocked(m.SourceID)
}

func (c *Collector) invalidateLocked(sourceID string) {
	for key := range c.cache {
		if key.sourceID == sourceID {
			delete(c.cache, key)
		}
	}
}

// SourceStats computes statistics for one source over the trailing
// window. A zero window covers everything still retained.
func (c *Collector) SourceStats(sourceID string, window time.Duration) SourceStats {
	key := cacheKey{sourceID: sourceID, window: window}

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[key]; ok {
		return cached
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}
	computed := computeStats(sourceID, window, c.selectLocked(sourceID, cutoff, time.Time{}))
	c.cache[key] = computed
	return computed
}

// AllSourceStats computes statistics for every source with at least one
// retained record.
func (c *Collector) AllSourceStats(window time.Duration) map[string]SourceStats {
	c.mu.RLock()
	ids := make(map[string]struct{})
	for _, m := range c.records {
		ids[m.SourceID] = struct{}{}
	}
	c.mu.RUnlock()

	out := make(map[string]SourceStats, len(ids))
	for id := range ids {
		out[id] = c.SourceStats(id, window)
	}
	return out
}

// selectLocked returns the source's records in [from, to); zero bounds
// are open.
func (c *Collector) selectLocked(sourceID string, from, to time.Time) []Metric {
	var out []Metric
	for _, m := range c.records {
		if m.SourceID != sourceID {
			continue
		}
		if !from.IsZero() && m.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !m.Timestamp.Before(to) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func computeStats(sourceID string, window time.Duration, records []Metric) SourceStats {
	st := SourceStats{SourceID: sourceID, Window: window}
	if len(records) == 0 {
		return st
	}

	latencies := make([]float64, 0, len(records))
	cacheLookups, cacheHits := 0, 0
	for _, m := range records {
		st.TotalCount++
		if m.Success {
			st.SuccessCount++
		} else {
			st.ErrorCount++
		}
		st.TotalBytes += m.DataSize
		latencies = append(latencies, float64(m.ResponseTime)/float64(time.Millisecond))
		if m.CacheHit != nil {
			cacheLookups++
			if *m.CacheHit {
				cacheHits++
			}
		}
	}

	st.SuccessRate = float64(st.SuccessCount) / float64(st.TotalCount)
	st.ErrorRate = float64(st.ErrorCount) / float64(st.TotalCount)
	st.Uptime = st.SuccessRate
	st.CacheLookups = cacheLookups
	if cacheLookups > 0 {
		st.CacheHitRate = float64(cacheHits) / float64(cacheLookups)
	}

	sorted := sortedCopy(latencies)
	st.AvgResponseTime = mean(latencies)
	st.MedianResponseTime = percentile(sorted, 50)
	st.P95ResponseTime = percentile(sorted, 95)
	st.P99ResponseTime = percentile(sorted, 99)
	st.MinResponseTime = sorted[0]
	st.MaxResponseTime = sorted[len(sorted)-1]
	return st
}

// Sweep removes records older than the retention period and drops cache
// entries for every source it touched. It returns the evicted count.
func (c *Collector) Sweep(now time.Time) int {
	cutoff := now.Add(-c.retention)

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.records[:0]
	touched := make(map[string]struct{})
	evicted := 0
	for _, m := range c.records {
		if m.Timestamp.Before(cutoff) {
			touched[m.SourceID] = struct{}{}
			evicted++
			continue
		}
		kept = append(kept, m)
	}
	c.records = kept
	for id := range touched {
		c.invalidateLocked(id)
	}
	return evicted
}

// StartSweeper runs the retention sweep on its configured interval until
// ctx is cancelled. Sweep errors cannot occur, but the loop follows the
// same discipline as other background tasks: it never escalates into
// foreground calls.
func (c *Collector) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := c.Sweep(now); n > 0 {
					c.logger.Debug("metric retention sweep", "evicted", n)
				}
			}
		}
	}()
}

// Count returns the number of retained records.
func (c *Collector) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
