// Package voice defines the synthesis voice model and the catalog that turns a
// host voice source into a filtered, ordered list with a selection default.
//
// The host populates its voice list asynchronously: the first query may return
// nothing and a change notification follows once voices are loaded. [Catalog]
// re-queries on every notification and republishes the result.
package voice

import "context"

// Voice is one synthesis voice offered by the host. Values are immutable.
type Voice struct {
	// ID is the host-specific voice identifier passed back on synthesis.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Language is the voice's BCP-47 language tag (e.g. "th-TH", "en-us").
	Language string `json:"language"`
}

// Source is a host voice catalog.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Voices returns the voices currently known to the host. An empty slice
	// with a nil error means the catalog is not populated yet.
	Voices(ctx context.Context) ([]Voice, error)

	// Changed returns a channel that receives a value whenever the host voice
	// list changes. A nil channel means the source never changes.
	Changed() <-chan struct{}
}
