// Package wav wraps raw linear PCM in a canonical RIFF/WAVE container.
package wav

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the length of the canonical PCM WAV header.
const HeaderSize = 44

const dataURIPrefix = "data:audio/wav;base64,"

var (
	ErrShortHeader   = errors.New("wav: buffer shorter than header")
	ErrInvalidHeader = errors.New("wav: invalid header")
	ErrNotDataURI    = errors.New("wav: not a wav data uri")
)

// Format describes the PCM stream carried by the container.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is the output format of the speech synthesis service.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// ByteRate returns bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns bytes per sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// Encode returns pcm prefixed with a 44-byte WAV header. The PCM bytes are
// copied verbatim; pcm itself is not modified.
func Encode(pcm []byte, f Format) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // PCM
	le.PutUint16(out[22:24], uint16(f.Channels))
	le.PutUint32(out[24:28], uint32(f.SampleRate))
	le.PutUint32(out[28:32], uint32(f.ByteRate()))
	le.PutUint16(out[32:34], uint16(f.BlockAlign()))
	le.PutUint16(out[34:36], uint16(f.BitsPerSample))

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))

	copy(out[HeaderSize:], pcm)
	return out
}

// Decode parses a canonical WAV buffer produced by Encode and returns its
// format and PCM payload. The payload aliases buf.
func Decode(buf []byte) (Format, []byte, error) {
	if len(buf) < HeaderSize {
		return Format{}, nil, ErrShortHeader
	}
	if !bytes.Equal(buf[0:4], []byte("RIFF")) || !bytes.Equal(buf[8:12], []byte("WAVE")) ||
		!bytes.Equal(buf[12:16], []byte("fmt ")) || !bytes.Equal(buf[36:40], []byte("data")) {
		return Format{}, nil, ErrInvalidHeader
	}
	le := binary.LittleEndian
	if le.Uint16(buf[20:22]) != 1 {
		return Format{}, nil, fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidHeader, le.Uint16(buf[20:22]))
	}
	f := Format{
		Channels:      int(le.Uint16(buf[22:24])),
		SampleRate:    int(le.Uint32(buf[24:28])),
		BitsPerSample: int(le.Uint16(buf[34:36])),
	}
	size := int(le.Uint32(buf[40:44]))
	if size > len(buf)-HeaderSize {
		return Format{}, nil, fmt.Errorf("%w: data size %d exceeds payload %d", ErrInvalidHeader, size, len(buf)-HeaderSize)
	}
	return f, buf[HeaderSize : HeaderSize+size], nil
}

// DataURI base64-encodes a WAV buffer as a data URI playable by audio elements.
func DataURI(wavData []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(wavData)
}

// ParseDataURI returns the WAV bytes carried by a URI built with DataURI.
func ParseDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return nil, ErrNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode wav data uri: %w", err)
	}
	return data, nil
}

// Duration returns the playback length in seconds of size bytes of PCM.
func (f Format) Duration(size int) float64 {
	if f.ByteRate() == 0 {
		return 0
	}
	return float64(size) / float64(f.ByteRate())
}
