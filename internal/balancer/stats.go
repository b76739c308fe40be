// Package balancer tracks live per-source load statistics and orders
// fallback-group members according to the configured selection strategy.
package balancer

import (
	"sync"
	"time"
)

// unhealthyWeightFactor discounts the configured weight of a source the
// prober has marked unhealthy. The source stays eligible as a last
// resort rather than being excluded outright.
const unhealthyWeightFactor = 0.1

// LoadStats is a snapshot of one source's live load counters.
type LoadStats struct {
	SourceID          string    `json:"sourceId"`
	ActiveConnections int64     `json:"activeConnections"`
	TotalRequests     int64     `json:"totalRequests"`
	AvgResponseTime   float64   `json:"avgResponseTime"`
	ErrorRate         float64   `json:"errorRate"`
	LastUsed          time.Time `json:"lastUsed,omitempty"`
	Weight            int       `json:"weight"`
	EffectiveWeight   float64   `json:"effectiveWeight"`
	Healthy           bool      `json:"isHealthy"`
}

type entry struct {
	active     int64
	total      int64
	errors     int64
	avgLatency float64
	lastUsed   time.Time
	weight     int
	healthy    bool
}

// Store holds load statistics for registered sources. Reads for
// selection happen concurrently; outcome updates are serialized per
// store. Counters persist until an explicit Reset.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Ensure registers a source with its configured weight. Existing
// counters are preserved; only the weight is refreshed.
func (s *Store) Ensure(sourceID string, weight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sourceID]; ok {
		e.weight = weight
		return
	}
	s.entries[sourceID] = &entry{weight: weight, healthy: true}
}

// Acquire marks the start of an attempt against the source.
func (s *Store) Acquire(sourceID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[sourceID]
	if e == nil {
		e = &entry{healthy: true}
		s.entries[sourceID] = e
	}
	e.active++
	e.lastUsed = now
}

// Release records the outcome of an attempt, folding the observed
// latency into the running average and updating the error rate.
func (s *Store) Release(sourceID string, latency time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[sourceID]
	if e == nil {
		return
	}
	if e.active > 0 {
		e.active--
	}
	e.total++
	if !success {
		e.errors++
	}
	ms := float64(latency) / float64(time.Millisecond)
	e.avgLatency += (ms - e.avgLatency) / float64(e.total)
}

// SetHealthy updates the prober-derived health flag for a source.
func (s *Store) SetHealthy(sourceID string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sourceID]; ok {
		e.healthy = healthy
	}
}

// Healthy reports the health flag for a source; unknown sources are
// considered healthy.
func (s *Store) Healthy(sourceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sourceID]
	return !ok || e.healthy
}

// Reset clears the counters for a source, keeping weight and health.
func (s *Store) Reset(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sourceID]; ok {
		e.active = 0
		e.total = 0
		e.errors = 0
		e.avgLatency = 0
		e.lastUsed = time.Time{}
	}
}

// Remove drops the entries for the given sources.
func (s *Store) Remove(sourceIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range sourceIDs {
		delete(s.entries, id)
	}
}

// Snapshot returns the stats for one source. Unknown sources yield a
// healthy zero-valued snapshot.
func (s *Store) Snapshot(sourceID string) LoadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(sourceID)
}

// Snapshots returns stats for the given sources.
func (s *Store) Snapshots(sourceIDs []string) map[string]LoadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]LoadStats, len(sourceIDs))
	for _, id := range sourceIDs {
		out[id] = s.snapshotLocked(id)
	}
	return out
}

func (s *Store) snapshotLocked(sourceID string) LoadStats {
	e, ok := s.entries[sourceID]
	if !ok {
		return LoadStats{SourceID: sourceID, Healthy: true}
	}
	st := LoadStats{
		SourceID:          sourceID,
		ActiveConnections: e.active,
		TotalRequests:     e.total,
		AvgResponseTime:   e.avgLatency,
		LastUsed:          e.lastUsed,
		Weight:            e.weight,
		Healthy:           e.healthy,
	}
	if e.total > 0 {
		st.ErrorRate = float64(e.errors) / float64(e.total)
	}
	st.EffectiveWeight = effectiveWeight(e.weight, e.healthy)
	return st
}

func effectiveWeight(weight int, healthy bool) float64 {
	w := float64(weight)
	if !healthy {
		w *= unhealthyWeightFactor
	}
	return w
}
