package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PROM8EUS/reliability/internal/source"
	"github.com/PROM8EUS/reliability/internal/stats"
	"github.com/PROM8EUS/reliability/pkg/telemetry"
)

// Operation is one unit of work parameterized by the source it runs
// against. Operations must be idempotent or safely retriable: the
// engine deduplicates nothing across attempts.
type Operation func(ctx context.Context, src *source.Descriptor) (any, error)

// CallOptions overrides engine defaults for a single call.
type CallOptions struct {
	// Name labels the operation in metrics and alerts.
	Name string
	// Timeout overrides the per-source timeout for every attempt.
	Timeout time.Duration
	// RetryAttempts caps the number of real attempts (skips excluded).
	RetryAttempts int
	// DisableCircuitBreaker bypasses CanExecute checks for this call;
	// outcomes are still recorded.
	DisableCircuitBreaker bool
	// DisableLoadBalancing forces failover (priority) ordering.
	DisableLoadBalancing bool
}

// FallbackResult is the outcome of one ExecuteWithFallback call.
type FallbackResult struct {
	Success        bool            `json:"success"`
	Payload        any             `json:"payload,omitempty"`
	SourceID       string          `json:"sourceId,omitempty"`
	SourceCategory source.Category `json:"sourceCategory,omitempty"`
	TotalTime      time.Duration   `json:"totalTime"`
	Attempts       int             `json:"attempts"`
	Errors         []string        `json:"errors,omitempty"`
	FallbackReason string          `json:"fallbackReason,omitempty"`
}

// allFailedReason is the human-readable reason set when every candidate failed.
const allFailedReason = "All sources failed"

// ExecuteWithFallback runs op against the group's candidates in
// selector order until one succeeds or the attempt budget is exhausted.
// Candidates whose breaker is open are skipped without consuming the
// budget. Every real attempt updates shared breaker, load, metric, and
// alert state, success or not, so concurrent callers see health signals
// immediately.
//
// Exhaustion is not an error: the returned result carries
// success=false and the per-attempt error strings. The only direct
// error is ErrGroupNotFound. A timed-out attempt has its context
// cancelled, but an operation that ignores its context may still be
// running in the background when the next candidate is tried.
func (e *Engine) ExecuteWithFallback(ctx context.Context, groupID string, op Operation, opts CallOptions) (*FallbackResult, error) {
	e.mu.RLock()
	g, ok := e.groups[groupID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	if opts.Name == "" {
		opts.Name = "execute"
	}

	strategy := g.Strategy
	if opts.DisableLoadBalancing || !e.config.EnableLoadBalancing {
		strategy = source.StrategyFailover
	}
	candidates := e.selector.Order(g, strategy)

	budget := opts.RetryAttempts
	if budget <= 0 {
		budget = e.config.MaxRetryAttempts
	}
	breakerEnabled := e.config.EnableCircuitBreaker && !opts.DisableCircuitBreaker

	start := time.Now()
	result := &FallbackResult{}
	skippedAll := len(candidates) > 0

	for _, candidate := range candidates {
		if breakerEnabled && !e.breakers.CanExecute(candidate.ID, time.Now()) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("source %s: skipped, circuit breaker open", candidate.ID))
			telemetry.RecordAttempt(ctx, telemetry.AttemptMetrics{
				GroupID:   groupID,
				SourceID:  candidate.ID,
				Operation: opts.Name,
				Outcome:   telemetry.OutcomeCircuitOpen,
			})
			continue
		}
		skippedAll = false

		if result.Attempts >= budget {
			break
		}
		if result.Attempts > 0 {
			// A context cancelled while waiting is the caller giving up,
			// not source exhaustion; the reason reflects that.
			if err := e.waitRetryDelay(ctx, candidate); err != nil {
				result.TotalTime = time.Since(start)
				result.FallbackReason = fmt.Sprintf("call cancelled: %v", err)
				result.Errors = append(result.Errors, err.Error())
				return result, nil
			}
		}

		payload, err := e.attempt(ctx, groupID, candidate, op, opts)
		result.Attempts++
		if err == nil {
			result.Success = true
			result.Payload = payload
			result.SourceID = candidate.ID
			result.SourceCategory = candidate.Category
			result.TotalTime = time.Since(start)
			return result, nil
		}
		result.Errors = append(result.Errors, fmt.Sprintf("source %s: %v", candidate.ID, err))
		if !e.config.EnableAutomaticFailover {
			break
		}
	}

	// With graceful degradation enabled, a call that found every
	// candidate breaker-open gets one last-resort attempt against the
	// top-ranked candidate rather than failing without trying anything.
	if skippedAll && e.config.EnableGracefulDegradation && budget > 0 {
		candidate := candidates[0]
		payload, err := e.attempt(ctx, groupID, candidate, op, opts)
		result.Attempts++
		if err == nil {
			result.Success = true
			result.Payload = payload
			result.SourceID = candidate.ID
			result.SourceCategory = candidate.Category
			result.TotalTime = time.Since(start)
			return result, nil
		}
		result.Errors = append(result.Errors, fmt.Sprintf("source %s: %v", candidate.ID, err))
	}

	result.TotalTime = time.Since(start)
	result.FallbackReason = allFailedReason
	telemetry.RecordExhausted(ctx, groupID, opts.Name)
	e.logger.Warn("fallback exhausted",
		"group", groupID, "operation", opts.Name, "attempts", result.Attempts)
	return result, nil
}

// waitRetryDelay sleeps the candidate's configured retry delay (or the
// engine default) honouring context cancellation.
func (e *Engine) waitRetryDelay(ctx context.Context, candidate *source.Descriptor) error {
	delay := candidate.RetryDelay
	if delay <= 0 {
		delay = e.config.RetryDelay
	}
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

type opResult struct {
	payload any
	err     error
}

// attempt runs op against one candidate under a timeout, recording the
// outcome into every shared state holder before returning.
func (e *Engine) attempt(ctx context.Context, groupID string, candidate *source.Descriptor, op Operation, opts CallOptions) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = candidate.Timeout
	}
	if timeout <= 0 {
		timeout = e.config.CallTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.loads.Acquire(candidate.ID, time.Now())
	start := time.Now()

	ch := make(chan opResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- opResult{err: fmt.Errorf("operation panic: %v", r)}
			}
		}()
		payload, err := op(attemptCtx, candidate)
		ch <- opResult{payload: payload, err: err}
	}()

	var res opResult
	timedOut := false
	select {
	case res = <-ch:
	case <-attemptCtx.Done():
		timedOut = errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		if timedOut {
			res.err = ErrOperationTimeout
		} else {
			res.err = attemptCtx.Err()
		}
	}
	elapsed := time.Since(start)

	success := res.err == nil
	e.loads.Release(candidate.ID, elapsed, success)

	now := time.Now()
	outcome := telemetry.OutcomeSuccess
	metric := stats.Metric{
		SourceID:     candidate.ID,
		Operation:    opts.Name,
		Timestamp:    now,
		ResponseTime: elapsed,
		Success:      success,
	}
	if success {
		e.breakers.RecordSuccess(candidate.ID, now)
	} else {
		e.breakers.RecordFailure(candidate.ID, now)
		metric.ErrorMessage = res.err.Error()
		outcome = telemetry.OutcomeFailure
		if timedOut {
			outcome = telemetry.OutcomeTimeout
			metric.ErrorCode = "timeout"
		}
	}
	e.collector.Record(metric)
	e.alerts.Observe(metric)

	telemetry.RecordAttempt(ctx, telemetry.AttemptMetrics{
		GroupID:   groupID,
		SourceID:  candidate.ID,
		Operation: opts.Name,
		Outcome:   outcome,
		Duration:  elapsed,
	})

	return res.payload, res.err
}
