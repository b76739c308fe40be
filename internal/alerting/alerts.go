// Package alerting evaluates recorded metrics against configured
// thresholds and manages the lifecycle of the resulting alerts.
package alerting

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PROM8EUS/reliability/internal/stats"
)

// Type classifies what an alert is about.
type Type string

const (
	// TypeLatency flags response times above a threshold.
	TypeLatency Type = "latency"
	// TypeErrorRate flags failed operations.
	TypeErrorRate Type = "error_rate"
	// TypeSuccessRate flags aggregate success-rate degradation.
	TypeSuccessRate Type = "success_rate"
	// TypeAvailability flags sources marked unavailable.
	TypeAvailability Type = "availability"
)

// Severity grades an alert.
type Severity string

const (
	// SeverityWarning marks a degradation worth watching.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks a degradation needing action.
	SeverityCritical Severity = "critical"
	// SeverityError marks a hard failure.
	SeverityError Severity = "error"
)

// Alert is one raised threshold violation. Alerts resolve only through
// an explicit Resolve call, never by the passage of time.
type Alert struct {
	ID         string     `json:"id"`
	Type       Type       `json:"type"`
	Severity   Severity   `json:"severity"`
	SourceID   string     `json:"sourceId"`
	Operation  string     `json:"operation"`
	Message    string     `json:"message"`
	Threshold  float64    `json:"threshold"`
	Observed   float64    `json:"observed"`
	CreatedAt  time.Time  `json:"createdAt"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Config holds alerting thresholds.
type Config struct {
	// LatencyWarning and LatencyCritical bound acceptable response times.
	LatencyWarning  time.Duration
	LatencyCritical time.Duration
	// Cooldown suppresses duplicate alerts per (source, operation, type).
	Cooldown time.Duration
	// Retention matches the metric retention window.
	Retention time.Duration
	Logger    *slog.Logger
}

// DefaultConfig returns sensible thresholds.
func DefaultConfig() Config {
	return Config{
		LatencyWarning:  2 * time.Second,
		LatencyCritical: 5 * time.Second,
		Cooldown:        5 * time.Minute,
		Retention:       time.Hour,
	}
}

type cooldownKey struct {
	sourceID  string
	operation string
	alertType Type
}

// Engine raises and tracks alerts. Safe for concurrent use. Raising an
// alert is a side channel only: it never influences the outcome of the
// call that triggered it.
type Engine struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	alerts   []*Alert
	lastFire map[cooldownKey]time.Time
}

// NewEngine creates an alerting engine.
func NewEngine(config Config) *Engine {
	def := DefaultConfig()
	if config.LatencyWarning <= 0 {
		config.LatencyWarning = def.LatencyWarning
	}
	if config.LatencyCritical <= 0 {
		config.LatencyCritical = def.LatencyCritical
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   config,
		logger:   logger,
		lastFire: make(map[cooldownKey]time.Time),
	}
}

// Observe evaluates one recorded metric. A failed metric raises an
// error-rate alert unconditionally; response times above the warning or
// critical threshold raise a severity-tagged latency alert. The per
// (source, operation, type) cooldown suppresses duplicates.
func (e *Engine) Observe(m stats.Metric) {
	now := m.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	observedMs := float64(m.ResponseTime) / float64(time.Millisecond)

	if !m.Success {
		msg := "operation failed"
		if m.ErrorMessage != "" {
			msg = "operation failed: " + m.ErrorMessage
		}
		e.raise(Alert{
			Type:      TypeErrorRate,
			Severity:  SeverityError,
			SourceID:  m.SourceID,
			Operation: m.Operation,
			Message:   msg,
			Observed:  observedMs,
		}, now)
	}

	switch {
	case m.ResponseTime >= e.config.LatencyCritical:
		e.raise(Alert{
			Type:      TypeLatency,
			Severity:  SeverityCritical,
			SourceID:  m.SourceID,
			Operation: m.Operation,
			Message:   "response time above critical threshold",
			Threshold: float64(e.config.LatencyCritical) / float64(time.Millisecond),
			Observed:  observedMs,
		}, now)
	case m.ResponseTime >= e.config.LatencyWarning:
		e.raise(Alert{
			Type:      TypeLatency,
			Severity:  SeverityWarning,
			SourceID:  m.SourceID,
			Operation: m.Operation,
			Message:   "response time above warning threshold",
			Threshold: float64(e.config.LatencyWarning) / float64(time.Millisecond),
			Observed:  observedMs,
		}, now)
	}
}

func (e *Engine) raise(a Alert, now time.Time) {
	key := cooldownKey{sourceID: a.SourceID, operation: a.Operation, alertType: a.Type}

	e.mu.Lock()
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < e.config.Cooldown {
		e.mu.Unlock()
		return
	}
	e.lastFire[key] = now

	a.ID = uuid.NewString()
	a.CreatedAt = now
	e.alerts = append(e.alerts, &a)
	e.mu.Unlock()

	e.logger.Warn("alert raised",
		"type", string(a.Type),
		"severity", string(a.Severity),
		"source", a.SourceID,
		"operation", a.Operation,
		"observed_ms", a.Observed,
	)
}

// Active returns unresolved alerts, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Resolve marks the alert resolved, recording the resolution time.
// Resolving an already resolved alert is a no-op; the original
// resolution timestamp is kept. Returns false for unknown ids.
func (e *Engine) Resolve(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.alerts {
		if a.ID != id {
			continue
		}
		if !a.Resolved {
			a.Resolved = true
			t := time.Now()
			a.ResolvedAt = &t
		}
		return true
	}
	return false
}

// Sweep drops alerts older than the retention window. Called by the
// same timer as the metric retention sweep.
func (e *Engine) Sweep(now time.Time) int {
	cutoff := now.Add(-e.config.Retention)

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.alerts[:0]
	dropped := 0
	for _, a := range e.alerts {
		if a.CreatedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	e.alerts = kept
	return dropped
}
