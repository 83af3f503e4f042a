package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures the circuit breaker created for each entry of a
// [FallbackGroup]. The Name field of CircuitBreaker is replaced by the entry
// name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds ordered instances of one backend type. Calls go to the
// first entry whose breaker admits them; failures move on to the next.
//
// Entries must be added before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates an empty [FallbackGroup].
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a named entry. Entries are tried in the order they are added.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns the breaker state of every entry keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute runs fn against each entry in order until one succeeds and returns
// the name of the entry that served the call. The returned error wraps
// [ErrAllFailed] and the errors of every attempted entry.
func Execute[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	if len(fg.entries) == 0 {
		return zero, "", fmt.Errorf("%w: no backends configured", ErrAllFailed)
	}
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend (circuit open)", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
