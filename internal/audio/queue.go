package audio

import "sync"

// Queue is a bounded single-producer single-consumer FIFO of frames. When it
// is full, Push evicts the oldest unsent frame.
type Queue struct {
	ch        chan Frame
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Frame, capacity)}
}

// Push enqueues f and returns the number of frames evicted to make room.
// Push must not be called after Close.
func (q *Queue) Push(f Frame) int {
	dropped := 0
	for {
		select {
		case q.ch <- f:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped++
		default:
		}
	}
}

// Frames is drained by the consumer; it is closed by Close once the
// remaining frames have been read.
func (q *Queue) Frames() <-chan Frame {
	return q.ch
}

// Len returns the number of frames waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close marks the end of input. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}
