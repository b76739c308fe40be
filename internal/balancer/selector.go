package balancer

import (
	"sort"

	"github.com/PROM8EUS/reliability/internal/source"
)

// Selector orders a group's enabled sources for dispatch, consulting
// the live load stats held by its Store.
type Selector struct {
	store *Store
}

// NewSelector creates a selector backed by the given stats store.
func NewSelector(store *Store) *Selector {
	return &Selector{store: store}
}

// Order returns the group's enabled sources ranked by the given
// strategy. The sort is stable: sources with equal scores keep their
// registration order.
func (s *Selector) Order(group *source.Group, strategy source.Strategy) []*source.Descriptor {
	candidates := group.Enabled()
	if len(candidates) < 2 {
		return candidates
	}

	switch strategy {
	case source.StrategyFailover:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Priority < candidates[j].Priority
		})
		return candidates
	case source.StrategyWeighted:
		// Higher effective weight first; unhealthy sources sink but stay in.
		return s.rank(candidates, func(d *source.Descriptor) float64 {
			return -effectiveWeight(d.Weight, s.store.Healthy(d.ID))
		})
	case source.StrategyLeastConnections:
		return s.rank(candidates, func(d *source.Descriptor) float64 {
			return float64(s.store.Snapshot(d.ID).ActiveConnections)
		})
	case source.StrategyResponseTime:
		return s.rank(candidates, func(d *source.Descriptor) float64 {
			return s.store.Snapshot(d.ID).AvgResponseTime
		})
	}
	return candidates
}

// rank orders candidates ascending by score, computing every score once
// before sorting so live stats cannot shift mid-sort.
func (s *Selector) rank(candidates []*source.Descriptor, score func(*source.Descriptor) float64) []*source.Descriptor {
	type scored struct {
		desc  *source.Descriptor
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{desc: c, score: score(c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score < ranked[j].score
	})
	out := make([]*source.Descriptor, len(ranked))
	for i, r := range ranked {
		out[i] = r.desc
	}
	return out
}
