// Package audio turns raw 16-bit PCM byte buffers into fixed-duration frames
// and queues them for the session sender.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed: only signed 16-bit little-endian PCM is supported.
const BytesPerSample = 2

// Format describes the PCM stream and the frame size sent on the wire.
type Format struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
}

// DefaultFormat returns 16 kHz mono with 20 ms frames.
func DefaultFormat() Format {
	return Format{
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the format produces a non-empty frame.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	if f.FrameBytes() <= 0 {
		return fmt.Errorf("frame duration %v is shorter than one sample", f.FrameDuration)
	}
	return nil
}

// SampleBytes is the size of one sample across all channels.
func (f Format) SampleBytes() int {
	return BytesPerSample * f.Channels
}

// FrameBytes is the nominal size of one frame.
func (f Format) FrameBytes() int {
	samples := int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
	return samples * f.SampleBytes()
}

// Duration returns the playback duration of n bytes.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.SampleBytes() == 0 {
		return 0
	}
	samples := n / f.SampleBytes()
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Frame is an immutable slice of PCM samples. Seq increases by one per frame
// produced by the same FrameBuffer.
type Frame struct {
	Seq  uint64
	Data []byte
}

// Len returns the frame size in bytes.
func (f Frame) Len() int { return len(f.Data) }
