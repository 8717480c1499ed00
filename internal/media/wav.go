// Package media implements the two assembly paths that turn finished chunk
// artifacts into one playable file: raw WAV payload concatenation and
// ffmpeg-based video concatenation with crossfade transitions.
package media

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical PCM header this engine reads
// and writes. All format fields live at fixed offsets inside it.
const WAVHeaderSize = 44

// ErrFormatMismatch reports input chunks whose sample rate, channel count or
// bit depth diverge. Concatenating such payloads would corrupt the result,
// so the merge fails fast instead.
var ErrFormatMismatch = errors.New("media: wav format mismatch between chunks")

// WAVFormat holds the fields read from fixed offsets of a WAV header.
type WAVFormat struct {
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ParseWAVFormat reads the format fields from the first 44 bytes of a WAV
// buffer, validating the RIFF/WAVE magic.
func ParseWAVFormat(b []byte) (WAVFormat, error) {
	if len(b) < WAVHeaderSize {
		return WAVFormat{}, fmt.Errorf("media: wav buffer too short: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAVFormat{}, errors.New("media: not a RIFF/WAVE buffer")
	}
	return WAVFormat{
		Channels:      binary.LittleEndian.Uint16(b[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(b[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(b[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(b[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(b[34:36]),
	}, nil
}

// MergeWAV concatenates the raw sample payloads of the given chunks, in
// order, under a single synthesized header. The format is taken from the
// first chunk; every later chunk must match it exactly.
func MergeWAV(chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, errors.New("media: no wav chunks to merge")
	}

	format, err := ParseWAVFormat(chunks[0])
	if err != nil {
		return nil, err
	}

	payloadLen := 0
	for i, chunk := range chunks {
		if len(chunk) < WAVHeaderSize {
			return nil, fmt.Errorf("media: chunk %d too short: %d bytes", i, len(chunk))
		}
		if i > 0 {
			f, err := ParseWAVFormat(chunk)
			if err != nil {
				return nil, fmt.Errorf("media: chunk %d: %w", i, err)
			}
			if f != format {
				return nil, fmt.Errorf("%w: chunk %d has %dHz/%dch/%dbit, expected %dHz/%dch/%dbit",
					ErrFormatMismatch, i,
					f.SampleRate, f.Channels, f.BitsPerSample,
					format.SampleRate, format.Channels, format.BitsPerSample)
			}
		}
		payloadLen += len(chunk) - WAVHeaderSize
	}

	out := make([]byte, 0, WAVHeaderSize+payloadLen)
	out = append(out, encodeWAVHeader(format, payloadLen)...)
	for _, chunk := range chunks {
		out = append(out, chunk[WAVHeaderSize:]...)
	}
	return out, nil
}

// encodeWAVHeader synthesizes one canonical 44-byte PCM header whose data
// size field equals payloadLen and whose RIFF size field equals
// payloadLen + header length - 8.
func encodeWAVHeader(f WAVFormat, payloadLen int) []byte {
	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(payloadLen+WAVHeaderSize-8))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], f.Channels)
	binary.LittleEndian.PutUint32(h[24:28], f.SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], f.ByteRate)
	binary.LittleEndian.PutUint16(h[32:34], f.BlockAlign)
	binary.LittleEndian.PutUint16(h[34:36], f.BitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(payloadLen))
	return h
}
