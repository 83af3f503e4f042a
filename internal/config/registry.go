package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxdeck/pkg/audio"
	"github.com/MrWong99/voxdeck/pkg/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]func(ProviderEntry) (speech.Engine, error)
	microphones map[string]func(ProviderEntry) (audio.Microphone, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines:     make(map[string]func(ProviderEntry) (speech.Engine, error)),
		microphones: make(map[string]func(ProviderEntry) (audio.Microphone, error)),
	}
}

// RegisterEngine registers a speech engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, factory func(ProviderEntry) (speech.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = factory
}

// RegisterMicrophone registers a microphone factory under name.
func (r *Registry) RegisterMicrophone(name string, factory func(ProviderEntry) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphones[name] = factory
}

// CreateEngine instantiates a speech engine using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateEngine(entry ProviderEntry) (speech.Engine, error) {
	r.mu.RLock()
	factory, ok := r.engines[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: engine/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMicrophone instantiates a microphone using the factory registered under entry.Name.
func (r *Registry) CreateMicrophone(entry ProviderEntry) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.microphones[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: microphone/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Engines returns the registered engine names, sorted.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
