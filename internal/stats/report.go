package stats

import (
	"fmt"
	"sort"
	"time"
)

// Recommendation thresholds for report generation.
const (
	reportSlowAvgMs        = 2000.0
	reportHighErrorRate    = 0.10
	reportLowCacheHitRate  = 0.50
	reportRankedSourcesMax = 3
)

// RankedSource pairs a source with its average latency for report ranking.
type RankedSource struct {
	SourceID        string  `json:"sourceId"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// Report aggregates all sources' behaviour over a time range.
type Report struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	TotalRequests      int     `json:"totalRequests"`
	AvgResponseTime    float64 `json:"avgResponseTime"`
	OverallSuccessRate float64 `json:"overallSuccessRate"`

	Sources map[string]SourceStats `json:"sources"`
	Fastest []RankedSource         `json:"fastest"`
	Slowest []RankedSource         `json:"slowest"`

	Recommendations []string `json:"recommendations"`
}

// Report builds a performance report over [start, end). The overall
// average response time is weighted by each source's request count.
func (c *Collector) Report(start, end time.Time) Report {
	c.mu.RLock()
	ids := make(map[string]struct{})
	for _, m := range c.records {
		ids[m.SourceID] = struct{}{}
	}
	perSource := make(map[string][]Metric, len(ids))
	for id := range ids {
		perSource[id] = c.selectLocked(id, start, end)
	}
	c.mu.RUnlock()

	rep := Report{
		Start:   start,
		End:     end,
		Sources: make(map[string]SourceStats, len(perSource)),
	}

	weightedLatency := 0.0
	totalSuccesses := 0
	for id, records := range perSource {
		if len(records) == 0 {
			continue
		}
		st := computeStats(id, end.Sub(start), records)
		rep.Sources[id] = st
		rep.TotalRequests += st.TotalCount
		totalSuccesses += st.SuccessCount
		weightedLatency += st.AvgResponseTime * float64(st.TotalCount)
	}
	if rep.TotalRequests > 0 {
		rep.AvgResponseTime = weightedLatency / float64(rep.TotalRequests)
		rep.OverallSuccessRate = float64(totalSuccesses) / float64(rep.TotalRequests)
	}

	ranked := make([]RankedSource, 0, len(rep.Sources))
	for id, st := range rep.Sources {
		ranked = append(ranked, RankedSource{SourceID: id, AvgResponseTime: st.AvgResponseTime})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AvgResponseTime == ranked[j].AvgResponseTime {
			return ranked[i].SourceID < ranked[j].SourceID
		}
		return ranked[i].AvgResponseTime < ranked[j].AvgResponseTime
	})
	n := len(ranked)
	top := reportRankedSourcesMax
	if top > n {
		top = n
	}
	rep.Fastest = append(rep.Fastest, ranked[:top]...)
	for i := 0; i < top; i++ {
		rep.Slowest = append(rep.Slowest, ranked[n-1-i])
	}

	rep.Recommendations = recommendations(rep.Sources)
	return rep
}

// recommendations derives free-text advice from per-source thresholds.
// Sources are visited in sorted order so output is deterministic.
func recommendations(sources map[string]SourceStats) []string {
	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []string
	for _, id := range ids {
		st := sources[id]
		if st.AvgResponseTime > reportSlowAvgMs {
			out = append(out, fmt.Sprintf(
				"source %s averages %.0fms per request; consider lowering its weight or priority", id, st.AvgResponseTime))
		}
		if st.ErrorRate > reportHighErrorRate {
			out = append(out, fmt.Sprintf(
				"source %s error rate is %.1f%%; check its health endpoint and breaker thresholds", id, st.ErrorRate*100))
		}
		if st.CacheLookups > 0 && st.CacheHitRate < reportLowCacheHitRate {
			out = append(out, fmt.Sprintf(
				"source %s cache hit rate is %.1f%%; review its caching configuration", id, st.CacheHitRate*100))
		}
	}
	return out
}
