// Package capture records microphone audio for the duration of one utterance
// and turns it into a WAV artifact in the recording registry.
//
// A [Coordinator] moves through four states:
//
//	Idle → PermissionPending → Armed → Capturing → Idle
//
// Arming asks the host for microphone authorisation (skipped once granted)
// and prepares the audio backend exactly once. Begin opens a capture stream;
// Finish closes it, drains what was buffered and registers the artifact.
// Only one capture may exist at a time, including while it is finalising.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxdeck/internal/observe"
	"github.com/MrWong99/voxdeck/internal/recording"
	"github.com/MrWong99/voxdeck/pkg/audio"
)

var (
	// ErrPermissionDenied is returned when microphone authorisation is
	// refused or no microphone is available.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrCaptureOpen is returned when the audio backend cannot be prepared
	// or a capture stream cannot be opened.
	ErrCaptureOpen = errors.New("capture: cannot open capture session")

	// ErrBusy is returned while authorisation is pending or a capture is in
	// progress or finalising.
	ErrBusy = errors.New("capture: capture already in progress")

	// ErrNotCapturing is returned by Finish and Discard when no capture is
	// open.
	ErrNotCapturing = errors.New("capture: no capture in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture: coordinator closed")
)

const (
	// DefaultChunkInterval is how often buffered audio is moved into a
	// segment while capturing.
	DefaultChunkInterval = time.Second

	// drainTimeout bounds how long Finish waits for a closed stream to
	// deliver its remaining chunks.
	drainTimeout = 2 * time.Second
)

// State is the observable coordinator state.
type State int

const (
	StateIdle State = iota
	StatePermissionPending
	StateArmed
	StateCapturing
)

// String returns the state name used in logs and the status API.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePermissionPending:
		return "permission_pending"
	case StateArmed:
		return "armed"
	case StateCapturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// phase is the coordinator's tagged state. Only the capturing variant holds a
// session, so a capture without an open stream cannot be represented.
type phase interface{ state() State }

type (
	idle              struct{}
	permissionPending struct{}
	armed             struct{}
	capturing         struct{ sess *session }
)

func (idle) state() State              { return StateIdle }
func (permissionPending) state() State { return StatePermissionPending }
func (armed) state() State             { return StateArmed }
func (capturing) state() State         { return StateCapturing }

// Status is a snapshot of the coordinator for status reporting.
type Status struct {
	State      State
	Permission audio.Permission

	// Buffered is the amount of audio captured so far in the open session.
	Buffered time.Duration
}

// Option is a functional option for configuring a Coordinator.
type Option func(*Coordinator)

// WithFormat sets the format of produced WAV files. Captured audio is
// converted to it. Default: [audio.DefaultCaptureFormat].
func WithFormat(f audio.Format) Option {
	return func(c *Coordinator) {
		if f.Valid() {
			c.target = f
		}
	}
}

// WithChunkInterval sets how often buffered audio is segmented.
func WithChunkInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMetrics records capture metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock overrides time.Now for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator owns the microphone for capture sessions. It is safe for
// concurrent use.
type Coordinator struct {
	mic      audio.Microphone
	registry *recording.Registry
	target   audio.Format
	interval time.Duration
	metrics  *observe.Metrics
	now      func() time.Time

	mu         sync.Mutex
	phase      phase
	permission audio.Permission
	prepared   bool
	closed     bool
}

// New creates a Coordinator that registers artifacts in registry. A nil mic
// behaves like a host that refuses microphone access.
func New(mic audio.Microphone, registry *recording.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		mic:      mic,
		registry: registry,
		target:   audio.DefaultCaptureFormat,
		interval: DefaultChunkInterval,
		now:      time.Now,
		phase:    idle{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase.state()
}

// Status returns the current state, permission and buffered audio length.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.phase.state(), Permission: c.permission}
	if cp, ok := c.phase.(capturing); ok {
		st.Buffered = cp.sess.buffered()
	}
	return st
}

// Arm obtains microphone authorisation and prepares the audio backend. It is
// a no-op when already armed. Authorisation that was granted before is not
// requested again; a previous refusal is.
func (c *Coordinator) Arm(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.phase.(type) {
	case armed:
		c.mu.Unlock()
		return nil
	case permissionPending, capturing:
		c.mu.Unlock()
		return ErrBusy
	}
	if c.mic == nil {
		c.permission = audio.PermissionDenied
		c.mu.Unlock()
		c.recordError(ctx, "permission_denied")
		return fmt.Errorf("%w: no microphone configured", ErrPermissionDenied)
	}
	needPrompt := c.permission != audio.PermissionGranted
	needPrepare := !c.prepared
	c.phase = permissionPending{}
	c.mu.Unlock()

	if needPrompt {
		if err := c.mic.Authorize(ctx); err != nil {
			denied := errors.Is(err, audio.ErrPermissionDenied)
			c.mu.Lock()
			if denied {
				c.permission = audio.PermissionDenied
			}
			c.phase = idle{}
			c.mu.Unlock()
			if denied {
				c.recordError(ctx, "permission_denied")
				return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			}
			return fmt.Errorf("capture: authorize microphone: %w", err)
		}
	}

	var prepErr error
	if needPrepare {
		prepErr = c.mic.Prepare(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.permission = audio.PermissionGranted
	if prepErr != nil {
		c.phase = idle{}
		c.recordError(ctx, "capture_open")
		return fmt.Errorf("%w: prepare audio backend: %v", ErrCaptureOpen, prepErr)
	}
	c.prepared = true
	if c.closed {
		c.phase = idle{}
		return ErrClosed
	}
	c.phase = armed{}
	return nil
}

// Begin arms the coordinator if needed and opens a capture stream for text.
func (c *Coordinator) Begin(ctx context.Context, text string) error {
	if err := c.Arm(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.phase.(armed); !ok {
		return ErrBusy
	}

	stream, err := c.mic.Open(ctx, c.target)
	if err != nil {
		c.recordError(ctx, "capture_open")
		return fmt.Errorf("%w: %v", ErrCaptureOpen, err)
	}

	sess := newSession(stream, text, c.target, c.interval, c.now())
	go sess.collect()
	c.phase = capturing{sess: sess}
	if c.metrics != nil {
		c.metrics.ActiveCaptures.Add(ctx, 1)
	}
	observe.Logger(ctx).Debug("capture started", "format", c.target.String())
	return nil
}

// Finish closes the open capture, registers its audio as a WAV artifact and
// returns to Idle. Audio buffered up to this point is kept even when the
// utterance was cut short.
func (c *Coordinator) Finish(ctx context.Context) (recording.Artifact, error) {
	sess, err := c.claim()
	if err != nil {
		return recording.Artifact{}, err
	}
	pcm := sess.stop(ctx)
	c.release(ctx)

	now := c.now()
	wav := audio.EncodeWAV(pcm, c.target)
	art, err := recording.NewArtifact(now, recording.SourceCapture, sess.text, wav,
		audio.WAVContentType, fmt.Sprintf("speech-%d.wav", now.UnixMilli()))
	if err != nil {
		return recording.Artifact{}, err
	}
	c.registry.Add(art)

	if c.metrics != nil {
		c.metrics.RecordRecording(ctx, string(recording.SourceCapture))
		c.metrics.CaptureDuration.Record(ctx, c.target.Duration(len(pcm)).Seconds())
	}
	observe.Logger(ctx).Info("capture finalized",
		"id", art.ID,
		"bytes", len(wav),
		"duration", c.target.Duration(len(pcm)))
	return art, nil
}

// Discard closes the open capture without registering anything.
func (c *Coordinator) Discard(ctx context.Context) error {
	sess, err := c.claim()
	if err != nil {
		return err
	}
	sess.stop(ctx)
	c.release(ctx)
	return nil
}

// claim marks the open session as finalising. The coordinator stays in
// Capturing until release so no new capture can start meanwhile.
func (c *Coordinator) claim() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.phase.(capturing)
	if !ok {
		return nil, ErrNotCapturing
	}
	if cp.sess.finalizing {
		return nil, ErrBusy
	}
	cp.sess.finalizing = true
	return cp.sess, nil
}

func (c *Coordinator) release(ctx context.Context) {
	c.mu.Lock()
	c.phase = idle{}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ActiveCaptures.Add(ctx, -1)
	}
}

// Close discards any open capture and releases the microphone. The
// coordinator cannot be used afterwards.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var sess *session
	if cp, ok := c.phase.(capturing); ok && !cp.sess.finalizing {
		cp.sess.finalizing = true
		sess = cp.sess
	}
	c.mu.Unlock()

	if sess != nil {
		sess.stop(context.Background())
		c.release(context.Background())
	}
	if c.mic == nil {
		return nil
	}
	if err := c.mic.Close(); err != nil {
		return fmt.Errorf("capture: close microphone: %w", err)
	}
	return nil
}

func (c *Coordinator) recordError(ctx context.Context, kind string) {
	if c.metrics != nil {
		c.metrics.RecordError(ctx, kind)
	}
}

// session is one open capture stream and its buffered audio.
type session struct {
	stream    audio.Stream
	text      string
	format    audio.Format
	interval  time.Duration
	converter audio.Converter
	started   time.Time

	// finalizing is guarded by Coordinator.mu.
	finalizing bool

	halt chan struct{}
	done chan struct{}

	mu       sync.Mutex
	pending  []byte
	segments [][]byte
	size     int
}

func newSession(stream audio.Stream, text string, target audio.Format, interval time.Duration, now time.Time) *session {
	return &session{
		stream:    stream,
		text:      text,
		format:    target,
		interval:  interval,
		converter: audio.Converter{Target: target},
		started:   now,
		halt:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// collect buffers chunks until the stream closes its channel or halt is
// closed, moving pending audio into a segment on every tick.
func (s *session) collect() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	chunks := s.stream.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				s.flush()
				return
			}
			if pcm := s.converter.Convert(chunk); len(pcm) > 0 {
				s.mu.Lock()
				s.pending = append(s.pending, pcm...)
				s.size += len(pcm)
				s.mu.Unlock()
			}
		case <-ticker.C:
			s.flush()
		case <-s.halt:
			s.flush()
			return
		}
	}
}

// abandon stops the collector early. Chunks still queued on the stream are
// discarded in the background until the stream closes its channel.
func (s *session) abandon() {
	close(s.halt)
	<-s.done
	go audio.Drain(s.stream.Chunks())
}

func (s *session) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return
	}
	s.segments = append(s.segments, s.pending)
	s.pending = nil
}

func (s *session) buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.Duration(s.size)
}

// stop closes the stream, waits for the collector to drain it and returns
// all captured PCM.
func (s *session) stop(ctx context.Context) []byte {
	if err := s.stream.Close(); err != nil {
		slog.Warn("capture: close stream", "err", err)
	}

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		slog.Warn("capture: stream did not drain in time, truncating")
		s.abandon()
	case <-ctx.Done():
		s.abandon()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, s.size)
	for _, seg := range s.segments {
		out = append(out, seg...)
	}
	return out
}
