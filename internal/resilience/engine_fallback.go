package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxdeck/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Engine = (*EngineFallback)(nil)

// EngineFallback implements [speech.Engine] over several engines. Only the
// start of an utterance is covered by failover: once an engine has begun
// speaking, its completion result is returned as-is.
type EngineFallback struct {
	group *FallbackGroup[speech.Engine]
}

// NewEngineFallback creates an empty EngineFallback.
func NewEngineFallback(cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{group: NewFallbackGroup[speech.Engine](cfg)}
}

// Add registers an engine. The first engine added is preferred.
func (f *EngineFallback) Add(name string, e speech.Engine) {
	f.group.Add(name, e)
}

// Names returns the registered engine names in preference order.
func (f *EngineFallback) Names() []string { return f.group.Names() }

// Speak starts req on the first healthy engine. When every engine fails to
// start the error wraps [speech.ErrUnavailable].
func (f *EngineFallback) Speak(ctx context.Context, req speech.Request) (<-chan error, error) {
	done, _, err := Execute(f.group, func(e speech.Engine) (<-chan error, error) {
		return e.Speak(ctx, req)
	})
	if err != nil {
		if errors.Is(err, speech.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", speech.ErrUnavailable, err)
	}
	return done, nil
}

// Check reports an error when every engine's breaker is open or no engine is
// configured. It is used as a readiness check.
func (f *EngineFallback) Check(_ context.Context) error {
	if f.group.Len() == 0 {
		return fmt.Errorf("resilience: %w: no engines configured", speech.ErrUnavailable)
	}
	for _, s := range f.group.States() {
		if s != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("resilience: %w: all engine breakers open", speech.ErrUnavailable)
}
