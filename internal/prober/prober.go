// Package prober polls source health endpoints in the background and
// feeds liveness flags into the balancer's load stats.
package prober

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/PROM8EUS/reliability/pkg/telemetry"
)

// HealthSink receives probe verdicts. Implemented by balancer.Store.
type HealthSink interface {
	SetHealthy(sourceID string, healthy bool)
}

// Target describes one endpoint to poll.
type Target struct {
	SourceID string
	URL      string
	// Timeout bounds each probe request.
	Timeout time.Duration
	// Interval between probes; zero uses the prober default.
	Interval time.Duration
}

type runningTarget struct {
	Target
	cancel context.CancelFunc
}

// Prober periodically issues HTTP GET probes against registered targets.
// Any transport error or non-2xx status marks the source unhealthy until
// the next successful probe. Probe errors are logged and swallowed; they
// never propagate into foreground calls.
type Prober struct {
	defaultInterval time.Duration
	defaultTimeout  time.Duration
	sink            HealthSink
	logger          *slog.Logger
	client          *http.Client

	mu      sync.Mutex
	ctx     context.Context
	targets map[string]*runningTarget
}

// Options configures a Prober.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// New creates a prober delivering verdicts to sink.
func New(sink HealthSink, opts Options) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{
		defaultInterval: opts.Interval,
		defaultTimeout:  opts.Timeout,
		sink:            sink,
		logger:          logger,
		client:          client,
		targets:         make(map[string]*runningTarget),
	}
}

// Start begins probing registered targets until ctx is cancelled.
// Targets added after Start begin probing immediately.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx != nil {
		return
	}
	p.ctx = ctx
	for _, t := range p.targets {
		p.launchLocked(t)
	}
}

// Add registers a probe target, replacing any existing target for the
// same source.
func (p *Prober) Add(t Target) {
	if t.Interval <= 0 {
		t.Interval = p.defaultInterval
	}
	if t.Timeout <= 0 {
		t.Timeout = p.defaultTimeout
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.targets[t.SourceID]; ok && old.cancel != nil {
		old.cancel()
	}
	rt := &runningTarget{Target: t}
	p.targets[t.SourceID] = rt
	if p.ctx != nil {
		p.launchLocked(rt)
	}
}

// Remove stops probing the given sources.
func (p *Prober) Remove(sourceIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range sourceIDs {
		if t, ok := p.targets[id]; ok {
			if t.cancel != nil {
				t.cancel()
			}
			delete(p.targets, id)
		}
	}
}

func (p *Prober) launchLocked(t *runningTarget) {
	ctx, cancel := context.WithCancel(p.ctx)
	t.cancel = cancel
	go p.loop(ctx, t.Target)
}

func (p *Prober) loop(ctx context.Context, t Target) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	p.probeOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, t)
		}
	}
}

// ProbeOnce issues a single probe for the target and reports the verdict
// to the sink. Exposed for one-shot CLI use.
func (p *Prober) ProbeOnce(ctx context.Context, t Target) bool {
	if t.Timeout <= 0 {
		t.Timeout = p.defaultTimeout
	}
	return p.probeOnce(ctx, t)
}

func (p *Prober) probeOnce(ctx context.Context, t Target) bool {
	healthy, err := p.check(ctx, t)
	if err != nil {
		p.logger.Warn("health probe failed", "source", t.SourceID, "url", t.URL, "error", err)
	}
	p.sink.SetHealthy(t.SourceID, healthy)
	telemetry.RecordProbe(ctx, t.SourceID, healthy)
	return healthy
}

func (p *Prober) check(ctx context.Context, t Target) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		return false, fmt.Errorf("create probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("probe status %d", resp.StatusCode)
	}
	return true, nil
}
