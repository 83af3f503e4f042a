// Package speech builds utterance requests and defines the Engine interface
// for on-device speech synthesis backends.
//
// An [Engine] speaks a [Request] and reports completion through a channel
// that yields exactly one value. Cancelling the context passed to Speak stops
// synthesis; the completion channel then yields the context error.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxdeck/pkg/voice"
)

// DefaultLanguage is the locale used when neither the caller nor the selected
// voice specifies one.
const DefaultLanguage = "th-TH"

// Parameter bounds for a [Request].
const (
	MinRate   = 0.1
	MaxRate   = 2.0
	MinPitch  = 0.1
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0
)

var (
	// ErrEmptyText is returned when an utterance has no speakable text.
	ErrEmptyText = errors.New("speech: text must not be empty")

	// ErrOutOfRange is returned when rate, pitch or volume are outside their
	// bounds.
	ErrOutOfRange = errors.New("speech: parameter out of range")

	// ErrUnavailable is returned when no synthesis engine can be used on this
	// host.
	ErrUnavailable = errors.New("speech: synthesis unavailable")
)

// Request is a fully resolved utterance.
type Request struct {
	Text     string  `json:"text"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
	Volume   float64 `json:"volume"`
	Language string  `json:"language"`

	// Voice is the selected voice. The zero value lets the engine pick one
	// for Language.
	Voice voice.Voice `json:"voice"`
}

// Params are the user-selected utterance settings. Nil numeric fields take
// their defaults.
type Params struct {
	Text     string   `json:"text"`
	Rate     *float64 `json:"rate,omitempty"`
	Pitch    *float64 `json:"pitch,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	Language string   `json:"language,omitempty"`
}

// Builder assembles a [Request] from [Params].
type Builder struct {
	// DefaultLanguage is used when no language is given and no voice is
	// selected. Empty means [DefaultLanguage].
	DefaultLanguage string
}

// Build validates p and resolves defaults. When v is non-nil its language tag
// takes precedence over p.Language.
func (b Builder) Build(p Params, v *voice.Voice) (Request, error) {
	if strings.TrimSpace(p.Text) == "" {
		return Request{}, ErrEmptyText
	}
	req := Request{
		Text:     p.Text,
		Rate:     1.0,
		Pitch:    1.0,
		Volume:   1.0,
		Language: b.defaultLanguage(),
	}

	var errs []error
	if p.Rate != nil {
		req.Rate = *p.Rate
		if req.Rate < MinRate || req.Rate > MaxRate {
			errs = append(errs, fmt.Errorf("%w: rate %.2f not in [%.1f, %.1f]", ErrOutOfRange, req.Rate, MinRate, MaxRate))
		}
	}
	if p.Pitch != nil {
		req.Pitch = *p.Pitch
		if req.Pitch < MinPitch || req.Pitch > MaxPitch {
			errs = append(errs, fmt.Errorf("%w: pitch %.2f not in [%.1f, %.1f]", ErrOutOfRange, req.Pitch, MinPitch, MaxPitch))
		}
	}
	if p.Volume != nil {
		req.Volume = *p.Volume
		if req.Volume < MinVolume || req.Volume > MaxVolume {
			errs = append(errs, fmt.Errorf("%w: volume %.2f not in [%.1f, %.1f]", ErrOutOfRange, req.Volume, MinVolume, MaxVolume))
		}
	}
	if len(errs) > 0 {
		return Request{}, errors.Join(errs...)
	}

	if p.Language != "" {
		req.Language = p.Language
	}
	if v != nil {
		req.Voice = *v
		if v.Language != "" {
			req.Language = v.Language
		}
	}
	return req, nil
}

func (b Builder) defaultLanguage() string {
	if b.DefaultLanguage != "" {
		return b.DefaultLanguage
	}
	return DefaultLanguage
}

// Engine is an on-device speech synthesis backend.
//
// Implementations must be safe for concurrent use, although callers in this
// module never run two utterances at once.
type Engine interface {
	// Speak starts synthesising req and returns once audio output has begun.
	// The returned channel yields exactly one value when synthesis ends (nil
	// on natural completion, ctx.Err() on cancellation, or an engine error)
	// and is then closed.
	//
	// A non-nil error means synthesis never started.
	Speak(ctx context.Context, req Request) (<-chan error, error)
}

// Float returns a pointer to f. It is a convenience for building [Params].
func Float(f float64) *float64 { return &f }
