// Package resilience provides circuit breaker and engine failover primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// makes calls to a failing dependency fail fast. [FallbackGroup] tries several
// instances of the same backend type in order, each behind its own breaker.
// [EngineFallback] applies that to on-device speech engines.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes required to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// Ignore reports errors that say nothing about the dependency's health
	// (rejected credentials, invalid input, caller cancellation). They are
	// returned to the caller without being counted. Nil counts every error.
	Ignore func(error) bool

	// OnStateChange, if set, is called after every transition with the lock
	// released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, transition, err := cb.admit()
	cb.notify(transition)
	if err != nil {
		return err
	}

	callErr := fn()

	cb.mu.Lock()
	switch {
	case callErr != nil && cb.cfg.Ignore != nil && cb.cfg.Ignore(callErr):
		if probe {
			// Give the probe slot back; the call proved nothing.
			cb.probes--
		}
		transition = nil
	case callErr != nil:
		transition = cb.recordFailure(probe)
	default:
		transition = cb.recordSuccess(probe)
	}
	cb.mu.Unlock()
	cb.notify(transition)
	return callErr
}

// stateChange is a pending OnStateChange notification.
type stateChange struct{ from, to State }

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, transition *stateChange, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, ErrCircuitOpen
		}
		transition = cb.setState(StateHalfOpen)
		cb.probes = 0
		cb.probeSuccesses = 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, transition, ErrCircuitOpen
		}
		cb.probes++
		return true, transition, nil
	}
	return false, transition, nil
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) *stateChange {
	if probe {
		cb.openedAt = cb.cfg.Now()
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.cfg.Name)
		return cb.setState(StateOpen)
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.cfg.MaxFailures {
		cb.openedAt = cb.cfg.Now()
		slog.Warn("circuit breaker opened",
			"name", cb.cfg.Name,
			"consecutive_failures", cb.consecutiveFail)
		return cb.setState(StateOpen)
	}
	return nil
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) *stateChange {
	if !probe {
		cb.consecutiveFail = 0
		return nil
	}
	cb.probeSuccesses++
	if cb.probeSuccesses < cb.cfg.HalfOpenMax {
		return nil
	}
	cb.consecutiveFail = 0
	slog.Info("circuit breaker closed after successful probes", "name", cb.cfg.Name)
	return cb.setState(StateClosed)
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) *stateChange {
	from := cb.state
	cb.state = to
	if from == to {
		return nil
	}
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) notify(c *stateChange) {
	if c != nil && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, c.from, c.to)
	}
}

// State returns the current [State] of the breaker. An open breaker whose
// reset timeout has elapsed reports [StateHalfOpen]; the transition itself
// happens on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	transition := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.probes = 0
	cb.probeSuccesses = 0
	cb.mu.Unlock()
	cb.notify(transition)
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
}
