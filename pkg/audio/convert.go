package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter normalises captured chunks to a target [Format]. It logs once on
// the first format mismatch and once on the first misaligned chunk.
// Create one per recording; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns chunk data in the target format. Data that already matches
// is returned as-is. Misaligned data (a partial sample frame) is dropped and
// nil is returned. Resampling happens before channel conversion so that a
// stereo source headed for mono is only resampled once per frame.
func (c *Converter) Convert(chunk Chunk) []byte {
	src := chunk.Format
	if !src.Valid() || len(chunk.Data)%src.BytesPerFrame() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: misaligned PCM chunk, dropping",
				"bytes", len(chunk.Data),
				"format", src.String(),
			)
		})
		return nil
	}
	if src == c.Target {
		return chunk.Data
	}

	c.warnedMismatch.Do(func() {
		slog.Debug("audio converter: converting capture format",
			"from", src.String(),
			"to", c.Target.String(),
		)
	})

	pcm := Resample(chunk.Data, src.Channels, src.SampleRate, c.Target.SampleRate)
	switch {
	case src.Channels == c.Target.Channels:
	case c.Target.Channels == 1:
		pcm = Downmix(pcm, src.Channels)
	case src.Channels == 1:
		pcm = Upmix(pcm, c.Target.Channels)
	default:
		pcm = Upmix(Downmix(pcm, src.Channels), c.Target.Channels)
	}
	return pcm
}

// Upmix duplicates each mono sample into channels identical samples.
// A trailing odd byte is ignored.
func Upmix(mono []byte, channels int) []byte {
	if channels <= 1 {
		return mono
	}
	n := len(mono) / 2
	out := make([]byte, n*2*channels)
	for i := range n {
		lo, hi := mono[i*2], mono[i*2+1]
		for ch := range channels {
			j := (i*channels + ch) * 2
			out[j] = lo
			out[j+1] = hi
		}
	}
	return out
}

// Downmix averages every interleaved frame of channels samples into a single
// mono sample. Arithmetic is done in int32 so the average cannot overflow.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (2 * channels)
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// Resample converts interleaved PCM with the given channel count from srcRate
// to dstRate using per-channel linear interpolation. Non-positive rates or
// equal rates return the input unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// sampleAt reads the n-th little-endian int16 sample of pcm.
func sampleAt(pcm []byte, n int) int16 {
	return int16(pcm[n*2]) | int16(pcm[n*2+1])<<8
}

// putSample writes v as the n-th little-endian int16 sample of pcm.
func putSample(pcm []byte, n int, v int16) {
	pcm[n*2] = byte(v)
	pcm[n*2+1] = byte(v >> 8)
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
