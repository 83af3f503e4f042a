package audio

import "time"

// Format describes the layout of little-endian signed 16-bit PCM audio.
type Format struct {
	// SampleRate in Hz (e.g., 16000, 44100, 48000).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// BytesPerFrame returns the size of one interleaved sample frame in bytes.
func (f Format) BytesPerFrame() int {
	return f.Channels * 2
}

// Valid reports whether f describes a usable PCM layout.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playback length of n bytes of PCM in this format.
// Returns zero for an invalid format.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := n / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// DefaultCaptureFormat is the layout recordings are normalised to before
// being encoded: 16 kHz mono keeps speech intelligible at a small size.
var DefaultCaptureFormat = Format{SampleRate: 16000, Channels: 1}

// Chunk is one block of PCM delivered by a capture [Stream].
type Chunk struct {
	// Data is interleaved little-endian int16 PCM.
	Data []byte

	// Format describes Data.
	Format Format

	// Captured is the wall-clock time the block was handed over by the device.
	Captured time.Time
}
