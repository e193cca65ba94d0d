package audio

// FrameBuffer accumulates PCM bytes into frames of Format.FrameBytes().
// A trailing partial sample stays buffered until more data arrives.
// Not safe for concurrent use.
type FrameBuffer struct {
	frameBytes  int
	sampleBytes int
	pending     []byte
	seq         uint64
}

// NewFrameBuffer creates a buffer for the given format. The format must be valid.
func NewFrameBuffer(f Format) *FrameBuffer {
	return &FrameBuffer{
		frameBytes:  f.FrameBytes(),
		sampleBytes: f.SampleBytes(),
		pending:     make([]byte, 0, f.FrameBytes()),
	}
}

// Write appends p and returns every complete frame now available.
func (b *FrameBuffer) Write(p []byte) []Frame {
	if len(p) == 0 {
		return nil
	}
	b.pending = append(b.pending, p...)

	var out []Frame
	for len(b.pending) >= b.frameBytes {
		out = append(out, b.emit(b.frameBytes))
	}
	return out
}

// Flush emits the remaining whole samples as a short frame. A dangling
// partial sample is discarded.
func (b *FrameBuffer) Flush() []Frame {
	n := len(b.pending) - len(b.pending)%b.sampleBytes
	if n == 0 {
		b.pending = b.pending[:0]
		return nil
	}
	f := b.emit(n)
	b.pending = b.pending[:0]
	return []Frame{f}
}

// Pending returns the number of buffered bytes not yet emitted.
func (b *FrameBuffer) Pending() int {
	return len(b.pending)
}

func (b *FrameBuffer) emit(n int) Frame {
	data := make([]byte, n)
	copy(data, b.pending[:n])
	rest := copy(b.pending, b.pending[n:])
	b.pending = b.pending[:rest]
	b.seq++
	return Frame{Seq: b.seq, Data: data}
}
