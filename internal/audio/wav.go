package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of a canonical PCM WAV header.
const WAVHeaderSize = 44

// ErrNotWAV is returned when the RIFF/WAVE magic is missing.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAVInfo is the format block of a canonical WAV header.
type WAVInfo struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// ReadWAVHeader consumes the 44-byte header from r and validates that the
// payload is 16-bit PCM.
func ReadWAVHeader(r io.Reader) (WAVInfo, error) {
	header := make([]byte, WAVHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return WAVInfo{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	info := WAVInfo{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if info.AudioFormat != 1 {
		return info, fmt.Errorf("unsupported WAV format %d: only PCM", info.AudioFormat)
	}
	if info.BitsPerSample != 16 {
		return info, fmt.Errorf("unsupported bit depth %d: only 16-bit", info.BitsPerSample)
	}
	return info, nil
}

// Format converts the header into a Format with the given frame duration.
func (w WAVInfo) Format(base Format) Format {
	base.SampleRate = int(w.SampleRate)
	base.Channels = int(w.Channels)
	return base
}
