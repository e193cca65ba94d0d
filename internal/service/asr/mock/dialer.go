// Package mock provides a mock ASR backend for testing without a live server.
// It simulates realistic streaming behavior: a growing buffer_transcription
// as audio frames arrive, then a committed line per utterance, an ack on
// config and ready_to_stop after end of audio.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/transcript"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive buffer transcripts
	Final    string   // Committed line text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"I want", "I want to", "I want to cancel"},
		Final:    "I want to cancel my subscription",
	},
	{
		Partials: []string{"Yes", "Yes please"},
		Final:    "Yes please go ahead",
	},
	{
		Partials: []string{"Can you", "Can you help", "Can you help me with"},
		Final:    "Can you help me with my account",
	},
	{
		Partials: []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:    "I've been waiting for over an hour",
	},
	{
		Partials: []string{"Thank you"},
		Final:    "Thank you very much",
	},
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithUtterances replaces the simulated utterances.
func WithUtterances(u ...SimulatedUtterance) Option {
	return func(d *Dialer) { d.utterances = u }
}

// WithScript makes every connection send the given raw messages right after
// the ack instead of simulating utterances from audio.
func WithScript(msgs ...string) Option {
	return func(d *Dialer) { d.script = msgs }
}

// WithoutAck suppresses the SERVER_READY message.
func WithoutAck() Option {
	return func(d *Dialer) { d.noAck = true }
}

// WithAck replaces the SERVER_READY message, e.g. with a WAIT status.
func WithAck(msg string) Option {
	return func(d *Dialer) { d.ack = msg }
}

// WithDialError makes Dial fail.
func WithDialError(err error) Option {
	return func(d *Dialer) { d.dialErr = err }
}

// WithFailure makes Receive fail with err once afterFrames frames were sent.
func WithFailure(afterFrames int, err error) Option {
	return func(d *Dialer) {
		d.failAfter = afterFrames
		d.failErr = err
	}
}

// WithDelay simulates backend processing delay on every message.
func WithDelay(delay time.Duration) Option {
	return func(d *Dialer) { d.delay = delay }
}

// WithoutReadyToStop keeps the stream open after end of audio.
func WithoutReadyToStop() Option {
	return func(d *Dialer) { d.noStop = true }
}

// Dialer implements asr.Dialer with mock connections.
type Dialer struct {
	utterances []SimulatedUtterance
	script     []string
	ack        string
	noAck      bool
	noStop     bool
	dialErr    error
	failAfter  int
	failErr    error
	delay      time.Duration

	mu    sync.Mutex
	conns []*Conn
}

// NewDialer creates a mock dialer.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{utterances: DefaultUtterances}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens a mock connection.
func (d *Dialer) Dial(ctx context.Context, cfg asr.StreamConfig) (asr.Conn, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{
		d:      d,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
		failed: make(chan struct{}),
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Conns returns every connection dialed so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Conn implements asr.Conn.
type Conn struct {
	d *Dialer

	mu           sync.Mutex
	config       asr.StreamConfig
	configured   bool
	frames       int
	bytes        int
	eofSent      bool
	ended        bool
	pending      [][]byte
	lines        []transcript.Line
	uttIndex     int
	partialIndex int
	failErr      error

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	failed    chan struct{}
	failOnce  sync.Once
}

// SendConfig records the config and acks it.
func (c *Conn) SendConfig(ctx context.Context, cfg asr.StreamConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return io.ErrClosedPipe
	}
	c.config = cfg
	c.configured = true

	if !c.d.noAck {
		ack := c.d.ack
		if ack == "" {
			ack = fmt.Sprintf(`{"uid": %q, "message": "SERVER_READY", "backend": "mock"}`, cfg.SessionID)
		}
		c.push([]byte(ack))
	}
	for _, msg := range c.d.script {
		c.push([]byte(msg))
	}
	return nil
}

// SendAudio simulates receiving audio and triggers progressive transcripts:
// one buffer update per frame, then the committed line.
func (c *Conn) SendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return io.ErrClosedPipe
	}
	if c.eofSent {
		return fmt.Errorf("mock: audio after end of audio")
	}

	c.frames++
	c.bytes += len(audio)

	if c.d.failErr != nil && c.frames >= c.d.failAfter {
		c.fail(c.d.failErr)
		return nil
	}
	if c.d.script != nil || len(c.d.utterances) == 0 {
		return nil
	}

	utt := c.d.utterances[c.uttIndex%len(c.d.utterances)]
	if c.partialIndex < len(utt.Partials) {
		c.pushTranscript(utt.Partials[c.partialIndex])
		c.partialIndex++
		return nil
	}
	c.commit(utt)
	return nil
}

// SendEndOfAudio commits any half-spoken utterance and signals ready_to_stop.
func (c *Conn) SendEndOfAudio(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return io.ErrClosedPipe
	}
	if c.eofSent {
		return nil
	}
	c.eofSent = true

	if c.d.script == nil && c.partialIndex > 0 && len(c.d.utterances) > 0 {
		c.commit(c.d.utterances[c.uttIndex%len(c.d.utterances)])
	}
	if !c.d.noStop {
		c.push([]byte(`{"type": "ready_to_stop"}`))
		c.ended = true
	}
	return nil
}

// Receive returns the next queued message.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if c.failErr != nil {
			err := c.failErr
			c.mu.Unlock()
			return nil, err
		}
		if len(c.pending) > 0 {
			msg := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			if err := c.wait(ctx); err != nil {
				return nil, err
			}
			return msg, nil
		}
		ended := c.ended
		c.mu.Unlock()

		if ended {
			return nil, io.EOF
		}

		select {
		case <-c.notify:
		case <-c.failed:
		case <-c.closed:
			return nil, io.EOF
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close ends the mock session. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Config returns the config received by SendConfig.
func (c *Conn) Config() (asr.StreamConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config, c.configured
}

// Frames returns the number of audio frames and bytes received.
func (c *Conn) Frames() (frames, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, c.bytes
}

// EOFSent reports whether SendEndOfAudio was called.
func (c *Conn) EOFSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eofSent
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.isClosed()
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) wait(ctx context.Context) error {
	if c.d.delay <= 0 {
		return nil
	}
	t := time.NewTimer(c.d.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) commit(utt SimulatedUtterance) {
	c.lines = append(c.lines, transcript.Line{Text: utt.Final})
	c.pushTranscript("")
	c.uttIndex++
	c.partialIndex = 0
}

// pushTranscript must be called with c.mu held.
func (c *Conn) pushTranscript(buffer string) {
	msg := transcript.Message{
		Lines:               append([]transcript.Line{}, c.lines...),
		BufferTranscription: buffer,
		Language:            c.config.Language,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.push(data)
}

// push must be called with c.mu held.
func (c *Conn) push(msg []byte) {
	c.pending = append(c.pending, msg)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// fail must be called with c.mu held.
func (c *Conn) fail(err error) {
	c.failErr = err
	c.failOnce.Do(func() { close(c.failed) })
}
