// Package orchestrator coordinates fallback execution across groups of
// interchangeable sources: it ranks candidates, consults per-source
// circuit breakers, runs operations under timeouts, and feeds every
// outcome back into the shared statistics, breaker, and alerting state.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/PROM8EUS/reliability/internal/alerting"
	"github.com/PROM8EUS/reliability/internal/balancer"
	"github.com/PROM8EUS/reliability/internal/breaker"
	"github.com/PROM8EUS/reliability/internal/prober"
	"github.com/PROM8EUS/reliability/internal/source"
	"github.com/PROM8EUS/reliability/internal/stats"
)

var (
	// ErrGroupNotFound is returned when a call references an unregistered group.
	ErrGroupNotFound = errors.New("fallback group not found")
	// ErrOperationTimeout marks an attempt that exceeded its timeout.
	ErrOperationTimeout = errors.New("operation timeout")
)

// Config enumerates every recognized engine option. Zero values take
// the documented defaults; unknown options do not exist by construction.
type Config struct {
	// EnableAutomaticFailover allows a call to move on to the next
	// candidate after a failure. Disabled, only the first candidate
	// is tried.
	EnableAutomaticFailover   bool
	EnableLoadBalancing       bool
	EnableCircuitBreaker      bool
	EnableGracefulDegradation bool

	HealthCheckInterval time.Duration
	FailureThreshold    int
	Cooldown            time.Duration
	MaxRetryAttempts    int
	RetryDelay          time.Duration
	Strategy            source.Strategy
	CallTimeout         time.Duration
	MetricRetention     time.Duration
	AlertCooldown       time.Duration
}

// DefaultConfig returns the engine defaults with every feature enabled.
func DefaultConfig() Config {
	return Config{
		EnableAutomaticFailover:   true,
		EnableLoadBalancing:       true,
		EnableCircuitBreaker:      true,
		EnableGracefulDegradation: false,
		HealthCheckInterval:       30 * time.Second,
		FailureThreshold:          5,
		Cooldown:                  time.Minute,
		MaxRetryAttempts:          3,
		RetryDelay:                time.Second,
		Strategy:                  source.StrategyFailover,
		CallTimeout:               30 * time.Second,
		MetricRetention:           time.Hour,
		AlertCooldown:             5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = def.MaxRetryAttempts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.MetricRetention <= 0 {
		c.MetricRetention = def.MetricRetention
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = def.AlertCooldown
	}
	return c
}

// GroupStatus is the queryable state of one registered group.
type GroupStatus struct {
	Group           *source.Group                 `json:"group"`
	CircuitBreakers map[string]breaker.Snapshot   `json:"circuitBreakers"`
	LoadStats       map[string]balancer.LoadStats `json:"loadBalancingStats"`
	// IsHealthy is true iff no member source is currently marked unhealthy.
	IsHealthy bool `json:"isHealthy"`
}

// Engine is the top-level fallback coordinator. Construct one per
// process (or per test) with New; there are no package-level instances.
type Engine struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[string]*source.Group

	breakers  *breaker.Manager
	loads     *balancer.Store
	selector  *balancer.Selector
	collector *stats.Collector
	alerts    *alerting.Engine
	prober    *prober.Prober
}

// Options carries optional collaborators for New.
type Options struct {
	Logger *slog.Logger
	// AlertConfig overrides the alerting thresholds derived from Config.
	AlertConfig *alerting.Config
	// ProberOptions overrides prober construction, mainly for tests.
	ProberOptions *prober.Options
}

// New constructs an engine and all of its internal state.
func New(config Config, opts Options) *Engine {
	config = config.withDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loads := balancer.NewStore()

	alertCfg := alerting.Config{
		Cooldown:  config.AlertCooldown,
		Retention: config.MetricRetention,
		Logger:    logger,
	}
	if opts.AlertConfig != nil {
		alertCfg = *opts.AlertConfig
		if alertCfg.Logger == nil {
			alertCfg.Logger = logger
		}
	}

	proberOpts := prober.Options{
		Interval: config.HealthCheckInterval,
		Logger:   logger,
	}
	if opts.ProberOptions != nil {
		proberOpts = *opts.ProberOptions
		if proberOpts.Logger == nil {
			proberOpts.Logger = logger
		}
	}

	return &Engine{
		config:   config,
		logger:   logger,
		groups:   make(map[string]*source.Group),
		breakers: breaker.NewManager(),
		loads:    loads,
		selector: balancer.NewSelector(loads),
		collector: stats.NewCollector(stats.Options{
			Retention: config.MetricRetention,
			Logger:    logger,
		}),
		alerts: alerting.NewEngine(alertCfg),
		prober: prober.New(loads, proberOpts),
	}
}

// Start launches the background health prober and retention sweeps.
// They run until ctx is cancelled and share the synchronization
// discipline of foreground calls.
func (e *Engine) Start(ctx context.Context) {
	e.prober.Start(ctx)
	e.collector.StartSweeper(ctx)
	go func() {
		ticker := time.NewTicker(e.config.MetricRetention / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := e.alerts.Sweep(now); n > 0 {
					e.logger.Debug("alert retention sweep", "dropped", n)
				}
			}
		}
	}()
}

// RegisterGroup validates and registers a fallback group, configuring a
// breaker and load-stats entry per member and scheduling health probes
// for members that declare a health endpoint. Registering an existing
// group id replaces it.
func (e *Engine) RegisterGroup(g *source.Group) error {
	if err := g.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.groups[g.ID] = g
	e.mu.Unlock()

	for _, src := range g.Sources {
		threshold := src.FailureThreshold
		if threshold <= 0 {
			threshold = e.config.FailureThreshold
		}
		cooldown := src.Cooldown
		if cooldown <= 0 {
			cooldown = e.config.Cooldown
		}
		e.breakers.Configure(src.ID, breaker.Config{
			FailureThreshold: threshold,
			Cooldown:         cooldown,
		})
		e.loads.Ensure(src.ID, src.Weight)

		if src.HealthCheckURL != "" {
			e.prober.Add(prober.Target{
				SourceID: src.ID,
				URL:      src.HealthCheckURL,
				Timeout:  src.Timeout,
				Interval: g.HealthCheckInterval,
			})
		}
	}

	e.logger.Info("fallback group registered",
		"group", g.ID, "strategy", string(g.Strategy), "sources", len(g.Sources))
	return nil
}

// RemoveGroup unregisters a group and tears down state for sources not
// shared with any other group.
func (e *Engine) RemoveGroup(groupID string) error {
	e.mu.Lock()
	g, ok := e.groups[groupID]
	if !ok {
		e.mu.Unlock()
		return ErrGroupNotFound
	}
	delete(e.groups, groupID)

	stale := make([]string, 0, len(g.Sources))
	for _, src := range g.Sources {
		shared := false
		for _, other := range e.groups {
			if other.Member(src.ID) != nil {
				shared = true
				break
			}
		}
		if !shared {
			stale = append(stale, src.ID)
		}
	}
	e.mu.Unlock()

	e.breakers.Remove(stale...)
	e.loads.Remove(stale...)
	e.prober.Remove(stale...)

	e.logger.Info("fallback group removed", "group", groupID)
	return nil
}

// GroupStatus returns the group plus its breaker and load-stats
// snapshots, or ErrGroupNotFound.
func (e *Engine) GroupStatus(groupID string) (*GroupStatus, error) {
	e.mu.RLock()
	g, ok := e.groups[groupID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrGroupNotFound
	}

	ids := make([]string, 0, len(g.Sources))
	for _, src := range g.Sources {
		ids = append(ids, src.ID)
	}

	loadStats := e.loads.Snapshots(ids)
	healthy := true
	for _, st := range loadStats {
		if !st.Healthy {
			healthy = false
			break
		}
	}

	all := e.breakers.Snapshots()
	cbs := make(map[string]breaker.Snapshot, len(ids))
	for _, id := range ids {
		if snap, ok := all[id]; ok {
			cbs[id] = snap
		}
	}

	return &GroupStatus{
		Group:           g,
		CircuitBreakers: cbs,
		LoadStats:       loadStats,
		IsHealthy:       healthy,
	}, nil
}

// GroupIDs returns the registered group ids.
func (e *Engine) GroupIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.groups))
	for id := range e.groups {
		out = append(out, id)
	}
	return out
}

// ResetCircuitBreaker resets the source's breaker and, with it, the
// source's load counters. This is the only path that clears load stats.
func (e *Engine) ResetCircuitBreaker(sourceID string) {
	e.breakers.Reset(sourceID)
	e.loads.Reset(sourceID)
}

// RecordMetric records an externally produced metric and runs it
// through the alerting layer.
func (e *Engine) RecordMetric(m stats.Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	e.collector.Record(m)
	e.alerts.Observe(m)
}

// RecordSuccess is a convenience wrapper for a successful outcome.
func (e *Engine) RecordSuccess(sourceID, operation string, responseTime time.Duration) {
	e.RecordMetric(stats.Metric{
		SourceID:     sourceID,
		Operation:    operation,
		ResponseTime: responseTime,
		Success:      true,
	})
}

// RecordFailure is a convenience wrapper for a failed outcome.
func (e *Engine) RecordFailure(sourceID, operation string, responseTime time.Duration, errMsg string) {
	e.RecordMetric(stats.Metric{
		SourceID:     sourceID,
		Operation:    operation,
		ResponseTime: responseTime,
		Success:      false,
		ErrorMessage: errMsg,
	})
}

// SourceStats returns derived statistics for one source.
func (e *Engine) SourceStats(sourceID string, window time.Duration) stats.SourceStats {
	return e.collector.SourceStats(sourceID, window)
}

// AllSourceStats returns derived statistics for every known source.
func (e *Engine) AllSourceStats(window time.Duration) map[string]stats.SourceStats {
	return e.collector.AllSourceStats(window)
}

// Report builds a performance report over [start, end).
func (e *Engine) Report(start, end time.Time) stats.Report {
	return e.collector.Report(start, end)
}

// ActiveAlerts returns unresolved alerts.
func (e *Engine) ActiveAlerts() []alerting.Alert {
	return e.alerts.Active()
}

// ResolveAlert marks an alert resolved; repeated calls are no-ops.
func (e *Engine) ResolveAlert(id string) bool {
	return e.alerts.Resolve(id)
}

// MetricCount returns the number of metric records inside the
// retention window.
func (e *Engine) MetricCount() int {
	return e.collector.Count()
}

// Prober exposes the health prober for one-shot CLI probes.
func (e *Engine) Prober() *prober.Prober {
	return e.prober
}
