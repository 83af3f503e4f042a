// Package mock provides a test double for the voice.Source interface.
//
// Example:
//
//	src := mock.NewSource(voice.Voice{ID: "th", Name: "Thai", Language: "th"})
//	cat := voice.NewCatalog(src)
//	src.SetVoices(nil) // simulate a host that unloaded its voices
//	src.Notify()
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxdeck/pkg/voice"
)

// Source is a mock implementation of voice.Source.
type Source struct {
	mu      sync.Mutex
	voices  []voice.Voice
	err     error
	changed chan struct{}
	calls   int
}

// NewSource returns a Source that reports the given voices.
func NewSource(voices ...voice.Voice) *Source {
	return &Source{
		voices:  voices,
		changed: make(chan struct{}, 1),
	}
}

// SetVoices replaces the reported voice list. It does not notify.
func (s *Source) SetVoices(voices []voice.Voice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = slices.Clone(voices)
}

// SetErr makes subsequent Voices calls fail with err.
func (s *Source) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Notify emits a change notification. Notifications coalesce while one is
// pending.
func (s *Source) Notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Calls returns how many times Voices was called.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Voices implements voice.Source.
func (s *Source) Voices(_ context.Context) ([]voice.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.voices), nil
}

// Changed implements voice.Source.
func (s *Source) Changed() <-chan struct{} { return s.changed }

// Compile-time interface assertion.
var _ voice.Source = (*Source)(nil)
