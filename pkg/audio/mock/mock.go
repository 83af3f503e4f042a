// Package mock provides in-memory mock implementations of [audio.Microphone]
// and [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.DefaultCaptureFormat)
//	mic := &mock.Microphone{OpenResult: stream}
//	s, err := mic.Open(ctx, audio.DefaultCaptureFormat)
//	stream.Push([]byte{0, 0, 1, 0})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxdeck/pkg/audio"
)

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Use [Stream.Push] to
// deliver chunks as if they came from a device.
type Stream struct {
	mu        sync.Mutex
	format    audio.Format
	chunks    chan audio.Chunk
	closed    bool
	closeErr  error
	pending   [][]byte
	closeCall int
}

// NewStream returns a Stream delivering chunks in format f.
func NewStream(f audio.Format) *Stream {
	return &Stream{
		format: f,
		chunks: make(chan audio.Chunk, 64),
	}
}

// SetCloseError makes subsequent Close calls return err.
func (s *Stream) SetCloseError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

// Push delivers data as one chunk. Pushes after Close are dropped.
func (s *Stream) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- audio.Chunk{Data: data, Format: s.format, Captured: time.Now()}
}

// PushOnClose queues data to be delivered while the stream is closing, the
// way real devices flush their last partial buffer on stop.
func (s *Stream) PushOnClose(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, data)
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan audio.Chunk { return s.chunks }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Close implements [audio.Stream]. It flushes PushOnClose data and closes
// the chunk channel on the first call.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCall++
	if s.closed {
		return nil
	}
	s.closed = true
	for _, data := range s.pending {
		s.chunks <- audio.Chunk{Data: data, Format: s.format, Captured: time.Now()}
	}
	close(s.chunks)
	return s.closeErr
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns how many times Close was called.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCall
}

// Compile-time interface assertion.
var _ audio.Stream = (*Stream)(nil)

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
// Set the exported fields before use; inspect the call counters after.
type Microphone struct {
	mu sync.Mutex

	// AuthorizeErr is returned by Authorize. Use an error wrapping
	// [audio.ErrPermissionDenied] to simulate a refusal.
	AuthorizeErr error

	// AuthorizeBlock, when non-nil, makes Authorize wait until it is closed
	// (or ctx ends). Use it to observe the permission-pending state.
	AuthorizeBlock chan struct{}

	// PrepareErr is returned by Prepare.
	PrepareErr error

	// OpenResult is returned by Open. When nil, Open returns a fresh stream
	// in the requested format.
	OpenResult audio.Stream

	// OpenErr, if non-nil, is returned by Open instead of a stream.
	OpenErr error

	// CloseErr is returned by Close.
	CloseErr error

	AuthorizeCalls int
	PrepareCalls   int
	OpenCalls      int
	CloseCalls     int

	// Opened holds every stream returned by Open in order.
	Opened []audio.Stream
}

// Authorize implements [audio.Microphone].
func (m *Microphone) Authorize(ctx context.Context) error {
	m.mu.Lock()
	m.AuthorizeCalls++
	block := m.AuthorizeBlock
	err := m.AuthorizeErr
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Prepare implements [audio.Microphone].
func (m *Microphone) Prepare(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PrepareCalls++
	return m.PrepareErr
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, want audio.Format) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := m.OpenResult
	if s == nil {
		s = NewStream(want)
	}
	m.Opened = append(m.Opened, s)
	return s, nil
}

// Close implements [audio.Microphone].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return m.CloseErr
}

// Counts returns a consistent snapshot of the call counters
// (authorize, prepare, open, close).
func (m *Microphone) Counts() (authorize, prepare, open, closeN int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AuthorizeCalls, m.PrepareCalls, m.OpenCalls, m.CloseCalls
}

// Compile-time interface assertion.
var _ audio.Microphone = (*Microphone)(nil)
