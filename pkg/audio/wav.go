package audio

import (
	"encoding/binary"
	"errors"
)

// WAVContentType is the MIME type served for encoded recordings.
const WAVContentType = "audio/wav"

// wavHeaderSize is the size of the canonical RIFF/WAVE header written by
// [EncodeWAV]: RIFF descriptor (12) + fmt chunk (24) + data chunk header (8).
const wavHeaderSize = 44

// EncodeWAV wraps 16-bit PCM in a canonical RIFF/WAVE container. A trailing
// partial sample frame is truncated so the data chunk stays aligned.
func EncodeWAV(pcm []byte, f Format) []byte {
	if f.Valid() {
		pcm = pcm[:len(pcm)-len(pcm)%f.BytesPerFrame()]
	}
	dataSize := uint32(len(pcm))
	out := make([]byte, wavHeaderSize, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], 36+dataSize)
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRate))
	le.PutUint32(out[28:32], uint32(f.SampleRate*f.BytesPerFrame()))
	le.PutUint16(out[32:34], uint16(f.BytesPerFrame()))
	le.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], dataSize)

	return append(out, pcm...)
}

// WAVInfo is the format metadata and payload location of a parsed WAV file.
type WAVInfo struct {
	Format     Format
	DataOffset int
	DataSize   int
}

// ParseWAV walks the RIFF chunks of wav and locates the "fmt " and "data"
// sub-chunks. The fmt chunk size may vary, so no fixed offset is assumed.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV data too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAVInfo{}, errors.New("audio: WAV data missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: WAV data missing WAVE identifier")
	}

	var info WAVInfo
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size >= 16 && offset+8+16 <= len(wav) {
				body := wav[offset+8:]
				info.Format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
				info.Format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = min(size, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: WAV data missing data chunk")
}
