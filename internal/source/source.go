// Package source defines the data model for backing sources and
// fallback groups managed by the reliability engine.
package source

import (
	"fmt"
	"time"
)

// Category classifies a source's role within a fallback group.
type Category string

const (
	// CategoryPrimary marks the preferred source for a group.
	CategoryPrimary Category = "primary"
	// CategoryBackup marks a source used when the primary degrades.
	CategoryBackup Category = "backup"
	// CategoryFallback marks a last-resort source.
	CategoryFallback Category = "fallback"
)

// Strategy names a load-balancing strategy for ordering group members.
type Strategy string

const (
	// StrategyFailover orders sources by configured priority.
	StrategyFailover Strategy = "failover"
	// StrategyWeighted orders sources by health-adjusted weight.
	StrategyWeighted Strategy = "weighted"
	// StrategyLeastConnections orders sources by in-flight request count.
	StrategyLeastConnections Strategy = "least_connections"
	// StrategyResponseTime orders sources by running average latency.
	StrategyResponseTime Strategy = "response_time"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyFailover, StrategyWeighted, StrategyLeastConnections, StrategyResponseTime:
		return true
	}
	return false
}

// Descriptor describes one backing source. Descriptors are treated as
// immutable once registered; updates go through explicit re-registration.
type Descriptor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	// Priority orders sources under the failover strategy; lower is tried first.
	Priority int    `json:"priority"`
	Endpoint string `json:"endpoint"`

	Timeout    time.Duration `json:"timeout"`
	RetryCount int           `json:"retryCount"`
	RetryDelay time.Duration `json:"retryDelay"`

	// FailureThreshold is the consecutive-failure count that opens the
	// source's circuit breaker; Cooldown is how long it stays open.
	FailureThreshold int           `json:"failureThreshold"`
	Cooldown         time.Duration `json:"cooldown"`

	// Weight (1-100) biases selection under the weighted strategy.
	Weight  int  `json:"weight"`
	Enabled bool `json:"enabled"`

	// HealthCheckURL, when set, is polled by the health prober.
	HealthCheckURL string `json:"healthCheckUrl,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks descriptor fields, applying no defaults.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("source id must not be empty")
	}
	switch d.Category {
	case CategoryPrimary, CategoryBackup, CategoryFallback:
	default:
		return fmt.Errorf("source %s: unknown category %q", d.ID, d.Category)
	}
	if d.Weight < 1 || d.Weight > 100 {
		return fmt.Errorf("source %s: weight %d outside 1-100", d.ID, d.Weight)
	}
	if d.Timeout < 0 || d.RetryDelay < 0 || d.Cooldown < 0 {
		return fmt.Errorf("source %s: negative duration", d.ID)
	}
	if d.RetryCount < 0 {
		return fmt.Errorf("source %s: negative retry count", d.ID)
	}
	if d.FailureThreshold < 0 {
		return fmt.Errorf("source %s: negative failure threshold", d.ID)
	}
	return nil
}

// Group is a named ordered collection of sources plus the strategy used
// to rank them. Registration order is significant: it is the tie-break
// for every strategy.
type Group struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Strategy Strategy      `json:"strategy"`
	Sources  []*Descriptor `json:"sources"`

	// HealthCheckInterval overrides the engine-wide probe interval for
	// this group's sources when positive.
	HealthCheckInterval time.Duration `json:"healthCheckInterval,omitempty"`
}

// Validate checks the group and all member descriptors.
func (g *Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("group id must not be empty")
	}
	if !ValidStrategy(g.Strategy) {
		return fmt.Errorf("group %s: unknown strategy %q", g.ID, g.Strategy)
	}
	if len(g.Sources) == 0 {
		return fmt.Errorf("group %s: no sources", g.ID)
	}
	seen := make(map[string]struct{}, len(g.Sources))
	for _, src := range g.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("group %s: duplicate source id %s", g.ID, src.ID)
		}
		seen[src.ID] = struct{}{}
	}
	return nil
}

// Enabled returns the group's enabled sources in registration order.
func (g *Group) Enabled() []*Descriptor {
	out := make([]*Descriptor, 0, len(g.Sources))
	for _, src := range g.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// Member returns the descriptor with the given id, or nil.
func (g *Group) Member(id string) *Descriptor {
	for _, src := range g.Sources {
		if src.ID == id {
			return src
		}
	}
	return nil
}
