// Package malgo implements [audio.Microphone] on top of miniaudio through
// github.com/gen2brain/malgo.
//
// Desktop hosts have no interactive permission prompt, so authorisation is
// modelled as "at least one capture device can be enumerated": a host that
// blocks microphone access (sandbox, missing device, denied OS privacy
// setting) surfaces as [audio.ErrPermissionDenied].
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxdeck/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Microphone = (*Microphone)(nil)

const (
	// defaultPeriodFrames is the device period: 30 ms at 16 kHz.
	defaultPeriodFrames = 480

	// chunkBuffer is the depth of the per-stream chunk channel.
	chunkBuffer = 64
)

// Option is a functional option for configuring a Microphone.
type Option func(*Microphone)

// WithDevice selects the capture device by its reported name. An empty name
// selects the system default input.
func WithDevice(name string) Option {
	return func(m *Microphone) {
		m.deviceName = name
	}
}

// WithPeriodFrames sets the device period size in frames.
func WithPeriodFrames(n uint32) Option {
	return func(m *Microphone) {
		if n > 0 {
			m.periodFrames = n
		}
	}
}

// Microphone captures from a local input device through miniaudio.
type Microphone struct {
	deviceName   string
	periodFrames uint32

	mu     sync.Mutex
	mctx   *malgo.AllocatedContext
	closed bool
}

// New creates a Microphone. No device or context is touched until
// Authorize or Prepare is called.
func New(opts ...Option) *Microphone {
	m := &Microphone{periodFrames: defaultPeriodFrames}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Authorize enumerates capture devices with a short-lived context. No device
// (or no device matching the configured name) counts as a refusal.
func (m *Microphone) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo: init probe context: %w", err)
	}
	defer func() {
		_ = probe.Uninit()
		probe.Free()
	}()

	infos, err := probe.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("%w: enumerate capture devices: %v", audio.ErrPermissionDenied, err)
	}
	if len(infos) == 0 {
		return fmt.Errorf("%w: no capture devices available", audio.ErrPermissionDenied)
	}
	if m.deviceName != "" {
		if _, ok := findDevice(infos, m.deviceName); !ok {
			return fmt.Errorf("%w: capture device %q not found", audio.ErrPermissionDenied, m.deviceName)
		}
	}
	return nil
}

// Prepare initialises the long-lived miniaudio context. Repeated calls reuse
// the existing context.
func (m *Microphone) Prepare(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("malgo: microphone is closed")
	}
	if m.mctx != nil {
		return nil
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "msg", message)
	})
	if err != nil {
		return fmt.Errorf("malgo: init context: %w", err)
	}
	m.mctx = mctx
	return nil
}

// Open starts a capture device in the requested format. The device is asked
// for signed 16-bit samples at want's rate and channel count.
func (m *Microphone) Open(ctx context.Context, want audio.Format) (audio.Stream, error) {
	if !want.Valid() {
		want = audio.DefaultCaptureFormat
	}
	if err := m.Prepare(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	mctx := m.mctx
	m.mu.Unlock()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(want.Channels)
	cfg.SampleRate = uint32(want.SampleRate)
	cfg.PeriodSizeInFrames = m.periodFrames

	if m.deviceName != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("malgo: enumerate capture devices: %w", err)
		}
		info, ok := findDevice(infos, m.deviceName)
		if !ok {
			return nil, fmt.Errorf("malgo: capture device %q not found", m.deviceName)
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	s := &stream{
		format: want,
		chunks: make(chan audio.Chunk, chunkBuffer),
	}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.deliver(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("malgo: start capture device: %w", err)
	}
	s.device = device
	return s, nil
}

// Close frees the miniaudio context. Later Prepare calls fail.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.mctx == nil {
		return nil
	}
	err := m.mctx.Uninit()
	m.mctx.Free()
	m.mctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// findDevice returns the capture device whose name equals name.
func findDevice(infos []malgo.DeviceInfo, name string) (malgo.DeviceInfo, bool) {
	for _, info := range infos {
		if info.Name() == name {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

// stream is one running capture device.
type stream struct {
	format audio.Format
	device *malgo.Device
	chunks chan audio.Chunk

	mu      sync.Mutex
	closed  bool
	dropped int
}

// deliver copies a device buffer into a chunk. It runs on the miniaudio
// callback thread and must never block.
func (s *stream) deliver(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	data := make([]byte, len(input))
	copy(data, input)
	select {
	case s.chunks <- audio.Chunk{Data: data, Format: s.format, Captured: time.Now()}:
	default:
		s.dropped++
	}
}

func (s *stream) Chunks() <-chan audio.Chunk { return s.chunks }

func (s *stream) Format() audio.Format { return s.format }

// Close stops the device before closing the channel so no callback can send
// on a closed channel.
func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var stopErr error
	if s.device != nil {
		stopErr = s.device.Stop()
		s.device.Uninit()
	}

	s.mu.Lock()
	s.closed = true
	dropped := s.dropped
	close(s.chunks)
	s.mu.Unlock()

	if dropped > 0 {
		slog.Warn("malgo: capture buffer overflow, chunks dropped", "dropped", dropped)
	}
	if stopErr != nil {
		return fmt.Errorf("malgo: stop capture device: %w", stopErr)
	}
	return nil
}
