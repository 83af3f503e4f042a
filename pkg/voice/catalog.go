package voice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// DefaultLanguages are the language families offered when none are configured.
var DefaultLanguages = []string{"th", "en", "ja"}

// DefaultPrimaryLanguage is the language family preferred for the default voice.
const DefaultPrimaryLanguage = "th"

// Snapshot is one published state of the catalog.
type Snapshot struct {
	// Voices is the filtered voice list in host order.
	Voices []Voice `json:"voices"`

	// DefaultID is the ID of the default voice, or "" when Voices is empty.
	DefaultID string `json:"default_id"`
}

// Default returns the default voice of the snapshot.
func (s Snapshot) Default() (Voice, bool) {
	if s.DefaultID == "" {
		return Voice{}, false
	}
	return s.Lookup(s.DefaultID)
}

// Lookup returns the voice with the given ID.
func (s Snapshot) Lookup(id string) (Voice, bool) {
	for _, v := range s.Voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// CatalogOption is a functional option for configuring a Catalog.
type CatalogOption func(*Catalog)

// WithLanguages restricts the catalog to the given language families
// (e.g. "th", "en"). An empty list keeps [DefaultLanguages].
func WithLanguages(families ...string) CatalogOption {
	return func(c *Catalog) {
		if len(families) > 0 {
			c.families = slices.Clone(families)
		}
	}
}

// WithPrimaryLanguage sets the language family whose first voice becomes the
// default selection.
func WithPrimaryLanguage(family string) CatalogOption {
	return func(c *Catalog) {
		if family != "" {
			c.primary = family
		}
	}
}

// WithNotify registers fn to be called with every snapshot published by
// Refresh. fn must not block.
func WithNotify(fn func(Snapshot)) CatalogOption {
	return func(c *Catalog) {
		c.notify = fn
	}
}

// Catalog filters a [Source] to the supported language families and tracks
// the default selection. It is safe for concurrent use.
type Catalog struct {
	source   Source
	families []string
	primary  string
	notify   func(Snapshot)

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewCatalog creates a Catalog over src. A nil src yields a permanently empty
// catalog.
func NewCatalog(src Source, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		source:   src,
		families: slices.Clone(DefaultLanguages),
		primary:  DefaultPrimaryLanguage,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Refresh queries the source, filters the result and publishes a new snapshot.
// On a source error the previous snapshot is kept.
func (c *Catalog) Refresh(ctx context.Context) (Snapshot, error) {
	if c.source == nil {
		return c.publish(Snapshot{}), nil
	}
	all, err := c.source.Voices(ctx)
	if err != nil {
		return c.Snapshot(), fmt.Errorf("voice: query source: %w", err)
	}

	filtered := make([]Voice, 0, len(all))
	for _, v := range all {
		if c.supported(v.Language) {
			filtered = append(filtered, v)
		}
	}
	snap := Snapshot{Voices: filtered}
	if def, ok := c.pickDefault(filtered); ok {
		snap.DefaultID = def.ID
	}
	return c.publish(snap), nil
}

// Watch refreshes once and then again on every source change notification
// until ctx is cancelled. Refresh errors are logged, not returned.
func (c *Catalog) Watch(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		slog.Warn("voice catalog refresh failed", "err", err)
	}
	var changed <-chan struct{}
	if c.source != nil {
		changed = c.source.Changed()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changed:
			if !ok {
				changed = nil
				continue
			}
			if _, err := c.Refresh(ctx); err != nil {
				slog.Warn("voice catalog refresh failed", "err", err)
			}
		}
	}
}

// Snapshot returns the current catalog state.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Voices:    slices.Clone(c.snapshot.Voices),
		DefaultID: c.snapshot.DefaultID,
	}
}

// Voices returns the current filtered voice list. The result is never nil.
func (c *Catalog) Voices() []Voice {
	v := c.Snapshot().Voices
	if v == nil {
		return []Voice{}
	}
	return v
}

// Default returns the current default voice.
func (c *Catalog) Default() (Voice, bool) {
	return c.Snapshot().Default()
}

// Lookup returns the voice with the given ID from the current snapshot.
func (c *Catalog) Lookup(id string) (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.Lookup(id)
}

func (c *Catalog) publish(snap Snapshot) Snapshot {
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	if c.notify != nil {
		c.notify(Snapshot{Voices: slices.Clone(snap.Voices), DefaultID: snap.DefaultID})
	}
	return snap
}

// pickDefault returns the first voice of the primary family, otherwise the
// first voice.
func (c *Catalog) pickDefault(voices []Voice) (Voice, bool) {
	for _, v := range voices {
		if MatchesFamily(v.Language, c.primary) {
			return v, true
		}
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return Voice{}, false
}

func (c *Catalog) supported(tag string) bool {
	for _, f := range c.families {
		if MatchesFamily(tag, f) {
			return true
		}
	}
	return false
}

// MatchesFamily reports whether the language tag belongs to family. Tags are
// compared by their BCP-47 base language; tags that do not parse fall back to
// a case-insensitive substring match.
func MatchesFamily(tag, family string) bool {
	if tag == "" || family == "" {
		return false
	}
	t, errT := language.Parse(tag)
	f, errF := language.Parse(family)
	if errT == nil && errF == nil {
		tb, _ := t.Base()
		fb, _ := f.Base()
		return tb == fb
	}
	return strings.Contains(strings.ToLower(tag), strings.ToLower(family))
}
