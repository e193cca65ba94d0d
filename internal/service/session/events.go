package session

import (
	"sync"

	"speech-bridge-service/internal/speech"
)

// eventQueue is an unbounded FIFO in front of the session's output channel.
// Producers never block; a pump goroutine delivers to out in order and closes
// it after close has been called and the backlog is drained.
type eventQueue struct {
	mu     sync.Mutex
	buf    []speech.Event
	closed bool
	signal chan struct{}
	out    chan speech.Event
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan speech.Event),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(e speech.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, e)
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *eventQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.buf) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}
		e := q.buf[0]
		q.buf[0] = speech.Event{}
		q.buf = q.buf[1:]
		q.mu.Unlock()

		q.out <- e
	}
}
