// Package breaker implements the per-source circuit breaker consulted by
// the fallback orchestrator before each dispatch.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the circuit
// breaker for the target source is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = "closed"
	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen State = "open"
	// StateHalfOpen indicates the circuit is testing whether the source
	// has recovered.
	StateHalfOpen State = "half_open"
)

// Config defines thresholds for a single breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before the next
	// CanExecute query moves it to half-open.
	Cooldown time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker tracks failure state for one source.
//
// Transitions follow recorded outcomes and the passage of time only:
// closed goes to open when consecutive failures reach the threshold;
// open goes to half-open lazily, the next time CanExecute is queried at
// or after the cooldown deadline; a success while half-open closes the
// circuit and a failure reopens it with a fresh deadline.
//
// Half-open admits exactly one trial request: the CanExecute query that
// performs the transition. Further queries are rejected until the
// trial's outcome is recorded.
type Breaker struct {
	mu     sync.Mutex
	config Config

	state           State
	failureCount    int
	successCount    int
	totalRequests   int
	lastFailureTime time.Time
	nextAttemptTime time.Time
}

// New creates a breaker in the closed state.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// CanExecute reports whether a request may be sent to the source. While
// open it returns false until the cooldown deadline passes, at which
// point the circuit moves to half-open and the call is allowed as the
// single trial request. The half-open state is only ever entered here,
// so being half-open means the trial is already in flight and further
// queries are rejected until its outcome is recorded.
func (b *Breaker) CanExecute(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return false
	case StateOpen:
		if !now.Before(b.nextAttemptTime) {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful outcome. A success while half-open
// closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.successCount++

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failureCount = 0
		b.nextAttemptTime = time.Time{}
	}
}

// RecordFailure records a failed outcome. Reaching the threshold while
// closed, or any failure while half-open, opens the circuit.
func (b *Breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	b.failureCount++
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		b.openLocked(now)
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.openLocked(now)
		}
	}
}

// Invariant: state == open implies nextAttemptTime is set.
func (b *Breaker) openLocked(now time.Time) {
	b.state = StateOpen
	b.nextAttemptTime = now.Add(b.config.Cooldown)
}

// Reset returns the breaker to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.lastFailureTime = time.Time{}
	b.nextAttemptTime = time.Time{}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot exposes breaker status information.
type Snapshot struct {
	State           State      `json:"state"`
	FailureCount    int        `json:"failureCount"`
	SuccessCount    int        `json:"successCount"`
	TotalRequests   int        `json:"totalRequests"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
	NextAttemptTime *time.Time `json:"nextAttemptTime,omitempty"`
}

// Snapshot returns the current breaker status.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		State:         b.state,
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		TotalRequests: b.totalRequests,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		snap.LastFailureTime = &t
	}
	if !b.nextAttemptTime.IsZero() && b.state == StateOpen {
		t := b.nextAttemptTime
		snap.NextAttemptTime = &t
	}
	return snap
}

// Manager holds circuit breakers for multiple sources.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

// Configure adds or replaces the breaker for a source.
func (m *Manager) Configure(sourceID string, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakers[sourceID] = New(config)
}

// CanExecute reports whether the source may be called. A source with no
// configured breaker is always allowed: a configuration gap must never
// block traffic.
func (m *Manager) CanExecute(sourceID string, now time.Time) bool {
	m.mu.RLock()
	b, ok := m.breakers[sourceID]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return b.CanExecute(now)
}

// RecordSuccess records a success for the source, if it has a breaker.
func (m *Manager) RecordSuccess(sourceID string, now time.Time) {
	if b := m.get(sourceID); b != nil {
		b.RecordSuccess(now)
	}
}

// RecordFailure records a failure for the source, if it has a breaker.
func (m *Manager) RecordFailure(sourceID string, now time.Time) {
	if b := m.get(sourceID); b != nil {
		b.RecordFailure(now)
	}
}

// Reset resets the breaker for a source. Unknown ids are a no-op.
func (m *Manager) Reset(sourceID string) {
	if b := m.get(sourceID); b != nil {
		b.Reset()
	}
}

// Remove deletes the breakers for the given sources.
func (m *Manager) Remove(sourceIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range sourceIDs {
		delete(m.breakers, id)
	}
}

// Snapshots returns status for every managed breaker.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.Snapshot()
	}
	return out
}

func (m *Manager) get(sourceID string) *Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[sourceID]
}
