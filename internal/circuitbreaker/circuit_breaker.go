// Package circuitbreaker protects every external collaborator the
// retrieval core calls out to — the embedder, the vector store, the LLM
// analyser, the reranker — from cascading timeouts: once a collaborator
// fails repeatedly the breaker opens and callers get ErrCircuitOpen
// immediately instead of waiting out another per-call timeout. Each
// breaker is tagged with the collaborator's name so state transitions
// and stats can be attributed to the right adapter in logs and in the
// stats surface (internal/metrics).
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"thutuc-retrieval/internal/logging"
)

// State is one of the three circuit states.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned by a tripped breaker.
var (
	ErrCircuitOpen               = errors.New("circuit breaker is open")
	ErrTooManyConcurrentRequests = errors.New("too many concurrent requests in half-open state")
)

// StateChangeFunc observes every state transition, named by the
// collaborator the breaker guards.
type StateChangeFunc func(collaborator string, from, to State)

// Config holds circuit breaker tunables. Every HTTP collaborator in
// this module builds one explicitly, with the same values DefaultConfig
// returns.
type Config struct {
	FailureThreshold      int
	SuccessThreshold      int
	Timeout               time.Duration
	MaxConcurrentRequests int
}

// DefaultConfig mirrors the values every adapter in this module passes
// explicitly; kept for callers (and tests) that don't need to tune it.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Stats is the breaker's counters, surfaced to internal/metrics so an
// operator can see which collaborator is flapping without reading logs.
type Stats struct {
	Collaborator    string    `json:"collaborator"`
	State           State     `json:"state"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejections int64     `json:"total_rejections"`
	FailureRate     float64   `json:"failure_rate"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
}

// CircuitBreaker guards one external collaborator. Every counter is a
// plain atomic; there is no mutex because no operation needs to observe
// more than one counter consistently at once.
type CircuitBreaker struct {
	collaborator string
	cfg          *Config
	onChange     StateChangeFunc

	state               int32
	lastFailureNano     int64
	consecutiveFailures int32
	consecutiveSuccess  int32
	halfOpenInFlight    int32

	requests   int64
	failures   int64
	successes  int64
	rejections int64
}

// LogStateChange returns a StateChangeFunc that reports every transition
// through log, at a severity matching how alarming the transition is:
// tripping open is a warning (an operator needs to know a collaborator
// is failing), everything else informational.
func LogStateChange(log logging.Logger) StateChangeFunc {
	scoped := log.WithComponent("circuitbreaker")
	return func(collaborator string, from, to State) {
		fields := []interface{}{"collaborator", collaborator, "from_state", from.String(), "to_state", to.String()}
		if to == StateOpen {
			scoped.Warn("circuit breaker tripped open", fields...)
			return
		}
		scoped.Info("circuit breaker state changed", fields...)
	}
}

// New builds a breaker named collaborator (used in Stats and passed to
// onChange; pass "" and nil if neither is needed). onChange may be nil.
func New(collaborator string, cfg *Config, onChange StateChangeFunc) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &CircuitBreaker{collaborator: collaborator, cfg: cfg, onChange: onChange}
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	return cb.ExecuteWithFallback(ctx, fn, nil)
}

// ExecuteWithFallback runs fn under breaker protection, routing both a
// rejected call and a failed call through fallback if one is given.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	if rejectErr := cb.admit(); rejectErr != nil {
		atomic.AddInt64(&cb.rejections, 1)
		if fallback != nil {
			return fallback(ctx, rejectErr)
		}
		return rejectErr
	}

	atomic.AddInt64(&cb.requests, 1)
	err := fn(ctx)
	cb.record(err)

	if err != nil && fallback != nil {
		return fallback(ctx, err)
	}
	return err
}

// admit decides whether a call may proceed, advancing open->half-open
// on timeout and bounding half-open concurrency.
func (cb *CircuitBreaker) admit() error {
	state := cb.State()
	if state == StateOpen {
		if !cb.openDeadlinePassed() {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		state = StateHalfOpen
	}

	switch state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		inFlight := atomic.AddInt32(&cb.halfOpenInFlight, 1)
		if inFlight > int32(cb.cfg.MaxConcurrentRequests) {
			atomic.AddInt32(&cb.halfOpenInFlight, -1)
			return ErrTooManyConcurrentRequests
		}
		return nil
	default:
		return fmt.Errorf("circuitbreaker: unknown state %v", state)
	}
}

// record updates counters and state off the outcome of one call.
func (cb *CircuitBreaker) record(err error) {
	wasHalfOpen := cb.State() == StateHalfOpen

	if err == nil {
		atomic.AddInt64(&cb.successes, 1)
		switch cb.State() {
		case StateClosed:
			atomic.StoreInt32(&cb.consecutiveFailures, 0)
		case StateHalfOpen:
			if atomic.AddInt32(&cb.consecutiveSuccess, 1) >= int32(cb.cfg.SuccessThreshold) {
				cb.transition(StateClosed)
			}
		}
	} else {
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.lastFailureNano, time.Now().UnixNano())
		switch cb.State() {
		case StateClosed:
			if atomic.AddInt32(&cb.consecutiveFailures, 1) >= int32(cb.cfg.FailureThreshold) {
				cb.transition(StateOpen)
			}
		case StateHalfOpen:
			cb.transition(StateOpen)
		}
	}

	if wasHalfOpen {
		atomic.AddInt32(&cb.halfOpenInFlight, -1)
	}
}

func (cb *CircuitBreaker) openDeadlinePassed() bool {
	last := atomic.LoadInt64(&cb.lastFailureNano)
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= cb.cfg.Timeout
}

func (cb *CircuitBreaker) transition(to State) {
	from := State(atomic.SwapInt32(&cb.state, int32(to)))
	if from == to {
		return
	}

	switch to {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccess, 0)
	case StateOpen:
		atomic.StoreInt32(&cb.consecutiveSuccess, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&cb.consecutiveSuccess, 0)
		atomic.StoreInt32(&cb.halfOpenInFlight, 0)
	}

	if cb.onChange != nil {
		cb.onChange(cb.collaborator, from, to)
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	return State(atomic.LoadInt32(&cb.state))
}

// Reset forces the breaker back to closed, clearing every counter that
// feeds a transition decision.
func (cb *CircuitBreaker) Reset() {
	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.consecutiveFailures, 0)
	atomic.StoreInt32(&cb.consecutiveSuccess, 0)
	atomic.StoreInt32(&cb.halfOpenInFlight, 0)
	atomic.StoreInt64(&cb.lastFailureNano, 0)
}

// Stats snapshots the breaker's counters for internal/metrics.
func (cb *CircuitBreaker) Stats() Stats {
	requests := atomic.LoadInt64(&cb.requests)
	failures := atomic.LoadInt64(&cb.failures)

	var failureRate float64
	if requests > 0 {
		failureRate = float64(failures) / float64(requests)
	}

	var lastFailure time.Time
	if nano := atomic.LoadInt64(&cb.lastFailureNano); nano > 0 {
		lastFailure = time.Unix(0, nano)
	}

	return Stats{
		Collaborator:    cb.collaborator,
		State:           cb.State(),
		TotalRequests:   requests,
		TotalFailures:   failures,
		TotalSuccesses:  atomic.LoadInt64(&cb.successes),
		TotalRejections: atomic.LoadInt64(&cb.rejections),
		FailureRate:     failureRate,
		LastFailureTime: lastFailure,
	}
}
