// Package speaker runs on-device utterances and ties each one to an optional
// microphone capture.
//
// A [Speaker] plays at most one utterance at a time. When recording is
// requested it opens exactly one capture before synthesis starts and
// finalizes it when the engine reports completion, whether the utterance
// finished, failed or was cancelled. The speaking flag is cleared only after
// the capture has been finalized, so a new utterance never races the
// previous recording.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxdeck/internal/capture"
	"github.com/MrWong99/voxdeck/internal/events"
	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

var (
	// ErrBusy is returned while an utterance is in progress.
	ErrBusy = errors.New("speaker: already speaking")

	// ErrConfirmationRequired is returned when recording was requested but
	// no capture could be opened. Retrying with AllowWithoutRecording speaks
	// without a recording.
	ErrConfirmationRequired = errors.New("speaker: recording unavailable, confirm to speak without it")

	// ErrUnknownVoice is returned for a voice ID not in the catalog.
	ErrUnknownVoice = errors.New("speaker: unknown voice")

	// ErrCanceled is returned by Speak when the utterance was cancelled
	// before synthesis started.
	ErrCanceled = errors.New("speaker: utterance canceled before start")
)

// Utterance end states reported in [Outcome.Status].
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Capturer records microphone audio for one utterance.
// *capture.Coordinator implements it.
type Capturer interface {
	Begin(ctx context.Context, text string) error
	Finish(ctx context.Context) (recording.Artifact, error)
	Discard(ctx context.Context) error
}

var _ Capturer = (*capture.Coordinator)(nil)

// VoiceLookup resolves voice IDs. *voice.Catalog implements it.
type VoiceLookup interface {
	Lookup(id string) (voice.Voice, bool)
	Default() (voice.Voice, bool)
}

var _ VoiceLookup = (*voice.Catalog)(nil)

// SpeakOptions describe one utterance.
type SpeakOptions struct {
	speech.Params

	// VoiceID selects a catalog voice. Empty uses the catalog default unless
	// Language is set, in which case the engine picks a voice for it.
	VoiceID string `json:"voice_id,omitempty"`

	// Record captures microphone audio while speaking.
	Record bool `json:"record,omitempty"`

	// AllowWithoutRecording confirms that the utterance may proceed when
	// the capture cannot be opened.
	AllowWithoutRecording bool `json:"allow_without_recording,omitempty"`
}

// Utterance describes a started utterance.
type Utterance struct {
	Request   speech.Request `json:"request"`
	Recording bool           `json:"recording"`

	// CaptureError explains why recording was skipped after the caller
	// allowed speaking without it.
	CaptureError string    `json:"capture_error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Outcome describes how an utterance ended.
type Outcome struct {
	Text     string        `json:"text"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	// Recording is the finalized capture, nil when nothing was recorded.
	Recording *recording.Artifact `json:"recording,omitempty"`

	// Err is the engine or capture error behind Status.
	Err error `json:"-"`
}

// Option is a functional option for configuring a Speaker.
type Option func(*Speaker)

// WithCapture enables recording through c.
func WithCapture(c Capturer) Option {
	return func(s *Speaker) {
		s.capture = c
	}
}

// WithVoices resolves voice IDs through v.
func WithVoices(v VoiceLookup) Option {
	return func(s *Speaker) {
		s.voices = v
	}
}

// WithBuilder sets the request builder, e.g. to change the default language.
func WithBuilder(b speech.Builder) Option {
	return func(s *Speaker) {
		s.builder = b
	}
}

// WithEvents publishes speaking events on hub.
func WithEvents(hub *events.Hub) Option {
	return func(s *Speaker) {
		s.hub = hub
	}
}

// WithMetrics records utterance metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) {
		s.metrics = m
	}
}

// Speaker drives the speech engine. It is safe for concurrent use.
type Speaker struct {
	engine  speech.Engine
	capture Capturer
	voices  VoiceLookup
	builder speech.Builder
	hub     *events.Hub
	metrics *observe.Metrics

	mu       sync.Mutex
	speaking bool
	current  *Utterance
	cancel   context.CancelFunc
	done     chan struct{}
	last     *Outcome
}

// New creates a Speaker that synthesises through engine.
func New(engine speech.Engine, opts ...Option) *Speaker {
	s := &Speaker{engine: engine}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IsSpeaking reports whether an utterance is in progress.
func (s *Speaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Current returns the utterance in progress, if any.
func (s *Speaker) Current() (Utterance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Utterance{}, false
	}
	return *s.current, true
}

// Last returns the outcome of the most recently finished utterance.
func (s *Speaker) Last() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Outcome{}, false
	}
	return *s.last, true
}

// Speak starts an utterance and returns once the engine has begun speaking.
// Synthesis continues after ctx ends; use [Speaker.Cancel] to stop it. A
// Cancel that arrives while the capture is still opening aborts the
// utterance before synthesis starts and Speak returns [ErrCanceled].
func (s *Speaker) Speak(ctx context.Context, opts SpeakOptions) (Utterance, error) {
	synthCtx, cancel, done, ok := s.reserve(ctx)
	if !ok {
		return Utterance{}, ErrBusy
	}
	u, err := s.start(ctx, synthCtx, cancel, done, opts)
	if err != nil {
		var out *Outcome
		if errors.Is(err, ErrCanceled) {
			out = &Outcome{Text: opts.Text, Status: StatusCanceled, Err: context.Canceled}
		}
		s.abort(cancel, done, out)
		return Utterance{}, err
	}
	return u, nil
}

// reserve claims the speaker and registers the cancel func and done channel
// of the new utterance, so Cancel and Wait see it while the capture opens.
func (s *Speaker) reserve(ctx context.Context) (context.Context, context.CancelFunc, chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		return nil, nil, nil, false
	}
	synthCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.speaking = true
	s.cancel = cancel
	s.done = done
	return synthCtx, cancel, done, true
}

// abort releases a reservation whose utterance never started.
func (s *Speaker) abort(cancel context.CancelFunc, done chan struct{}, out *Outcome) {
	cancel()
	s.mu.Lock()
	s.speaking = false
	s.current = nil
	s.cancel = nil
	s.done = nil
	if out != nil {
		s.last = out
	}
	s.mu.Unlock()
	close(done)
}

func (s *Speaker) start(ctx, synthCtx context.Context, cancel context.CancelFunc, done chan struct{}, opts SpeakOptions) (Utterance, error) {
	ctx, span := observe.StartSpan(ctx, "speaker.speak",
		trace.WithAttributes(
			attribute.Int("text.length", len(opts.Text)),
			attribute.Bool("record", opts.Record),
		))
	var err error
	defer func() { observe.EndSpan(span, err) }()

	v, err := s.resolveVoice(opts)
	if err != nil {
		return Utterance{}, err
	}
	req, err := s.builder.Build(opts.Params, v)
	if err != nil {
		return Utterance{}, err
	}

	u := Utterance{Request: req, StartedAt: time.Now()}
	if opts.Record {
		capErr := s.beginCapture(ctx, req.Text)
		switch {
		case capErr == nil:
			u.Recording = true
		case synthCtx.Err() != nil:
			// Cancelled while the capture was opening.
		case !opts.AllowWithoutRecording:
			err = fmt.Errorf("%w: %w", ErrConfirmationRequired, capErr)
			return Utterance{}, err
		default:
			u.CaptureError = capErr.Error()
			observe.Logger(ctx).Warn("speaking without recording", "err", capErr)
		}
	}

	if cerr := synthCtx.Err(); cerr != nil {
		s.discard(ctx, u, "discard capture after cancel")
		err = fmt.Errorf("%w: %w", ErrCanceled, cerr)
		return Utterance{}, err
	}

	finished, err := s.engine.Speak(synthCtx, req)
	if err != nil {
		s.discard(ctx, u, "discard capture after failed start")
		s.recordError(ctx, "synthesis_unavailable")
		if !errors.Is(err, speech.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", speech.ErrUnavailable, err)
		}
		return Utterance{}, err
	}

	s.mu.Lock()
	s.current = &u
	s.mu.Unlock()

	s.publish(events.SpeakingStarted, u)
	observe.Logger(ctx).Info("utterance started",
		"language", req.Language,
		"voice", req.Voice.ID,
		"recording", u.Recording)

	go s.await(context.WithoutCancel(ctx), u, finished, cancel, done)
	return u, nil
}

func (s *Speaker) discard(ctx context.Context, u Utterance, msg string) {
	if !u.Recording {
		return
	}
	if err := s.capture.Discard(ctx); err != nil {
		observe.Logger(ctx).Warn(msg, "err", err)
	}
}

func (s *Speaker) resolveVoice(opts SpeakOptions) (*voice.Voice, error) {
	if s.voices == nil {
		if opts.VoiceID != "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, opts.VoiceID)
		}
		return nil, nil
	}
	if opts.VoiceID != "" {
		v, ok := s.voices.Lookup(opts.VoiceID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, opts.VoiceID)
		}
		return &v, nil
	}
	if opts.Language != "" {
		return nil, nil
	}
	if v, ok := s.voices.Default(); ok {
		return &v, nil
	}
	return nil, nil
}

func (s *Speaker) beginCapture(ctx context.Context, text string) error {
	if s.capture == nil {
		return fmt.Errorf("%w: recording is not configured", capture.ErrPermissionDenied)
	}
	return s.capture.Begin(ctx, text)
}

// await blocks until the engine reports completion, finalizes the capture
// and clears the speaking flag.
func (s *Speaker) await(ctx context.Context, u Utterance, finished <-chan error, cancel context.CancelFunc, done chan struct{}) {
	defer cancel()
	err := <-finished

	out := Outcome{Text: u.Request.Text, Duration: time.Since(u.StartedAt), Err: err}
	switch {
	case err == nil:
		out.Status = StatusCompleted
	case errors.Is(err, context.Canceled):
		out.Status = StatusCanceled
	default:
		out.Status = StatusFailed
		out.Error = err.Error()
		s.recordError(ctx, "synthesis")
	}

	if u.Recording {
		art, ferr := s.capture.Finish(ctx)
		if ferr != nil {
			observe.Logger(ctx).Error("finalize capture", "err", ferr)
			if out.Err == nil {
				out.Err = ferr
				out.Error = ferr.Error()
			}
		} else {
			out.Recording = &art
		}
	}

	if s.metrics != nil {
		s.metrics.RecordUtterance(ctx, out.Status, out.Recording != nil, out.Duration.Seconds())
	}
	observe.Logger(ctx).Info("utterance ended",
		"status", out.Status,
		"duration", out.Duration,
		"recorded", out.Recording != nil)

	s.mu.Lock()
	s.speaking = false
	s.current = nil
	s.cancel = nil
	s.done = nil
	s.last = &out
	s.mu.Unlock()
	close(done)

	s.publish(events.SpeakingEnded, out)
}

// Cancel stops the utterance in progress and returns after its capture has
// been finalized and the speaking flag cleared. It reports false when
// nothing was playing.
func (s *Speaker) Cancel(ctx context.Context) (bool, error) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return false, nil
	}
	cancel()
	select {
	case <-done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Wait blocks until the utterance in progress ends and returns its outcome.
// Without an utterance in progress it returns the last outcome immediately.
func (s *Speaker) Wait(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	out, _ := s.Last()
	return out, nil
}

// Close cancels any utterance in progress and waits for it to end.
func (s *Speaker) Close(ctx context.Context) error {
	_, err := s.Cancel(ctx)
	return err
}

func (s *Speaker) publish(t events.Type, data any) {
	if s.hub != nil {
		s.hub.Publish(t, data)
	}
}

func (s *Speaker) recordError(ctx context.Context, kind string) {
	if s.metrics != nil {
		s.metrics.RecordError(ctx, kind)
	}
}
