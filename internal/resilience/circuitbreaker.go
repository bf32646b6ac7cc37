// Package resilience keeps a flaky speech or generation service from
// stalling every interaction.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) placed
// around each remote provider call. [FallbackGroup] chains several providers
// of one kind behind per-provider breakers, so a tripped primary is skipped
// in favour of the next healthy entry instead of timing out on every turn.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after too
	// many consecutive failures; left when the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Clean
	// probes close the breaker, a single failed probe re-opens it.
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

// CircuitBreakerConfig tunes a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log lines, typically the provider name.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls per half-open episode; the breaker
	// closes once this many probes succeed. Default 3.
	HalfOpenMax int
}

// CircuitBreaker guards one remote service.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu         sync.Mutex
	state      State
	failures   int // consecutive, while closed
	lastFail   time.Time
	probes     int // calls admitted this half-open episode
	probeFails int
}

// NewCircuitBreaker builds a breaker, substituting defaults for zero-value
// config fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn unless the breaker is rejecting calls, in which case it
// returns [ErrCircuitOpen] without invoking fn. fn's error is returned
// unchanged either way.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()
	cb.observe(err, probing)
	return err
}

// admit decides whether a call may proceed, performing the open→half-open
// transition when the reset timeout has elapsed. It reports whether the
// admitted call counts as a half-open probe.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFail) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker probing", "name", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			// Probe budget spent; outcome pending.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// observe records a call's outcome and moves the state machine.
func (cb *CircuitBreaker) observe(callErr error, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case callErr != nil && probing:
		// One bad probe is enough evidence the service is still down.
		cb.lastFail = time.Now()
		cb.probeFails++
		cb.failures = cb.maxFailures
		cb.state = StateOpen
		slog.Warn("circuit breaker re-opened", "name", cb.name)

	case callErr != nil:
		cb.lastFail = time.Now()
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", cb.failures)
		}

	case probing:
		if cb.probes-cb.probeFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed", "name", cb.name)
		}

	default:
		cb.failures = 0
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reads as [StateHalfOpen]; the stored state changes on the next
// Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFail) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker reset", "name", cb.name)
}
