// Package recording holds the in-memory list of produced audio artifacts.
//
// The registry is append-at-head: the most recently added artifact is always
// at index 0. Artifact IDs are time-ordered UUIDv7 values and unique for the
// lifetime of the process. Nothing is persisted.
package recording

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxdeck/pkg/audio"
)

// Source identifies how an artifact was produced.
type Source string

const (
	// SourceCapture marks audio captured from the microphone during on-device
	// synthesis.
	SourceCapture Source = "capture"

	// SourceRemote marks audio returned by the remote TTS endpoint.
	SourceRemote Source = "remote"
)

// Artifact is one finalized piece of audio available for playback and
// download.
type Artifact struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Audio       []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
	Source      Source    `json:"source"`

	// Style is the remote voice style, empty for captured audio.
	Style string `json:"style,omitempty"`
}

// Size returns the audio payload length in bytes.
func (a Artifact) Size() int { return len(a.Audio) }

// Duration returns the playback length of a WAV artifact. It is zero for
// other content types and for audio that does not parse.
func (a Artifact) Duration() time.Duration {
	if a.ContentType != audio.WAVContentType {
		return 0
	}
	info, err := audio.ParseWAV(a.Audio)
	if err != nil {
		return 0
	}
	return info.Format.Duration(info.DataSize)
}

// NewArtifact returns an artifact with a fresh time-ordered ID and creation
// time. now is typically time.Now().
func NewArtifact(now time.Time, src Source, text string, audio []byte, contentType, filename string) (Artifact, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Artifact{}, fmt.Errorf("recording: generate id: %w", err)
	}
	return Artifact{
		ID:          id.String(),
		Text:        text,
		Audio:       audio,
		ContentType: contentType,
		Filename:    filename,
		CreatedAt:   now,
		Source:      src,
	}, nil
}

// Registry is a newest-first list of artifacts. It is safe for concurrent use.
type Registry struct {
	// emitMu serialises mutations together with their notifications so
	// onChange sees changes in registry order.
	emitMu sync.Mutex

	mu        sync.RWMutex
	artifacts []Artifact
	onChange  func(Change)
}

// ChangeKind tells subscribers what happened to the registry.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// Change describes one registry mutation.
type Change struct {
	Kind     ChangeKind
	Artifact Artifact
}

// Option is a functional option for configuring a Registry.
type Option func(*Registry)

// WithOnChange registers fn to be called after every Add and successful
// Remove, in the order the changes were applied. fn may read the registry
// but must not block or mutate it.
func WithOnChange(fn func(Change)) Option {
	return func(r *Registry) {
		r.onChange = fn
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add prepends a.
func (r *Registry) Add(a Artifact) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.artifacts = slices.Insert(r.artifacts, 0, a)
	r.mu.Unlock()
	r.emit(Change{Kind: ChangeAdded, Artifact: a})
}

// Remove deletes the artifact with the given ID and reports whether it was
// present. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	idx := slices.IndexFunc(r.artifacts, func(a Artifact) bool { return a.ID == id })
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	removed := r.artifacts[idx]
	r.artifacts = slices.Delete(r.artifacts, idx, idx+1)
	r.mu.Unlock()
	r.emit(Change{Kind: ChangeRemoved, Artifact: removed})
	return true
}

// List returns the artifacts newest first. The slice is a copy; audio
// payloads are shared and must not be modified.
func (r *Registry) List() []Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.artifacts)
}

// Get returns the artifact with the given ID.
func (r *Registry) Get(id string) (Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

// Len returns the number of artifacts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.artifacts)
}

func (r *Registry) emit(c Change) {
	if r.onChange != nil {
		r.onChange(c)
	}
}
