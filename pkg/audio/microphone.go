// Package audio defines the microphone abstraction used by the capture
// coordinator together with the PCM helpers needed to turn captured blocks
// into a downloadable WAV recording.
//
// The two primary abstractions are:
//
//   - [Microphone]: the host capture device. It is authorised and prepared
//     once, then opens capture streams.
//   - [Stream]: one open capture session delivering [Chunk] values until it
//     is closed.
//
// Backends live in sub-packages (audio/malgo for miniaudio, audio/mock for
// tests). This package lives under pkg/ because third-party backends are
// expected to implement [Microphone].
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Microphone.Authorize] when the host
// refuses microphone access or has no usable capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Permission is the last known microphone authorisation status.
type Permission int

const (
	// PermissionUnknown means authorisation has not been requested yet.
	PermissionUnknown Permission = iota

	// PermissionGranted means the host allowed microphone access.
	PermissionGranted

	// PermissionDenied means the host refused microphone access. A new
	// capture request re-issues the authorisation request.
	PermissionDenied
)

// String returns the human-readable name of the permission status.
func (p Permission) String() string {
	switch p {
	case PermissionUnknown:
		return "unknown"
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "invalid"
	}
}

// Stream is an open capture session bound to the live microphone input.
//
// Implementations must be safe for concurrent use: Close may be called from a
// different goroutine than the one draining Chunks.
type Stream interface {
	// Chunks returns the channel delivering captured PCM blocks. The channel
	// is closed after Close returns or when the device stops on its own.
	Chunks() <-chan Chunk

	// Format reports the PCM layout of every chunk on this stream.
	Format() Format

	// Close stops the device and releases the input. It is safe to call more
	// than once; subsequent calls return nil.
	Close() error
}

// Microphone is the host microphone capability.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Authorize asks the host for microphone access. It returns nil when
	// access is granted and an error wrapping [ErrPermissionDenied] when it is
	// refused. Other errors indicate the request itself could not be made.
	Authorize(ctx context.Context) error

	// Prepare constructs the audio-processing context used by subsequent Open
	// calls. Callers invoke it once per session after authorisation; calling
	// it again must be harmless.
	Prepare(ctx context.Context) error

	// Open starts a capture stream in approximately the requested format.
	// Backends may deliver a different format; callers must honour
	// [Stream.Format].
	Open(ctx context.Context, want Format) (Stream, error)

	// Close releases the audio-processing context. Streams opened from this
	// microphone must be closed first.
	Close() error
}
