// Package session runs one audio stream against an ASR backend.
//
// A Session owns the backend connection and three tasks:
//
//   - the sender drains the frame queue into the connection and sends the
//     end-of-audio marker once input is flushed;
//   - the receiver parses backend messages and feeds the turn policy;
//   - the watchdog ticks the policy so stable interims get finalized.
//
// Parser state, policy state and event emission are serialized by one mutex,
// so events leave the session in the order the policy produced them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"speech-bridge-service/internal/audio"
	"speech-bridge-service/internal/observability/metrics"
	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/service/turn"
	"speech-bridge-service/internal/speech"
	"speech-bridge-service/internal/transcript"
)

var ErrNotStreaming = errors.New("session is not streaming")

// Config holds per-session tuning.
type Config struct {
	Format        audio.Format
	QueueCapacity int
	StableTimeout time.Duration
	TickInterval  time.Duration
	// HandshakeTimeout bounds dial plus the wait for the backend's ack.
	HandshakeTimeout time.Duration
	// DrainGrace is how long the receiver keeps reading after end of audio.
	DrainGrace time.Duration
	Language   string
	Model      string
	Task       string
	UseVAD     bool
	// AwaitAck makes Start wait for the backend to acknowledge the config.
	AwaitAck bool
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Format:           audio.DefaultFormat(),
		QueueCapacity:    50,
		StableTimeout:    300 * time.Millisecond,
		TickInterval:     50 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
		DrainGrace:       5 * time.Second,
		Task:             "transcribe",
		AwaitAck:         true,
	}
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is one bridged audio stream.
type Session struct {
	id      string
	cfg     Config
	dialer  asr.Dialer
	log     zerolog.Logger
	metrics *metrics.Metrics

	lifecycle *Lifecycle

	// writeMu orders Write, Flush, the final queue close and the move to
	// STREAMING against a Close that arrives while connecting.
	writeMu      sync.Mutex
	frames       *audio.FrameBuffer
	queue        *audio.Queue
	closePending bool

	// mu guards parser, policy and event emission.
	mu     sync.Mutex
	parser *transcript.Parser
	policy *turn.Policy
	events *eventQueue

	conn       asr.Conn
	started    time.Time
	stopParent func() bool

	done chan struct{}
	err  error
}

// New creates a session in IDLE state.
func New(id string, dialer asr.Dialer, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:        id,
		cfg:       cfg,
		dialer:    dialer,
		log:       log.Logger,
		metrics:   metrics.DefaultMetrics,
		lifecycle: NewLifecycle(),
		frames:    audio.NewFrameBuffer(cfg.Format),
		queue:     audio.NewQueue(cfg.QueueCapacity),
		events:    newEventQueue(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("sessionId", id).Logger()
	s.parser = transcript.NewParser(s.log)
	s.policy = turn.NewPolicy(id, turn.Config{
		StableTimeout: cfg.StableTimeout,
		Language:      cfg.Language,
	})
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.lifecycle.State() }

// Events delivers speech events in order. It is closed when the session ends
// and must be drained by the caller.
func (s *Session) Events() <-chan speech.Event { return s.events.out }

// Done is closed once every task has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, if any. Valid after Done.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) streamConfig() asr.StreamConfig {
	return asr.StreamConfig{
		SessionID:  s.id,
		Language:   s.cfg.Language,
		Model:      s.cfg.Model,
		Task:       s.cfg.Task,
		UseVAD:     s.cfg.UseVAD,
		SampleRate: s.cfg.Format.SampleRate,
	}
}

// Start connects to the backend, performs the handshake and launches the
// session tasks. Cancelling ctx afterwards drains the session like Flush.
func (s *Session) Start(ctx context.Context) error {
	if err := s.lifecycle.Transition(StateConnecting); err != nil {
		return err
	}
	s.started = time.Now()
	s.metrics.RecordSessionStart()

	hsCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	sc := s.streamConfig()
	conn, err := s.dialer.Dial(hsCtx, sc)
	if err != nil {
		return s.abortStart(connErr("dial", err))
	}
	s.conn = conn

	if err := conn.SendConfig(hsCtx, sc); err != nil {
		return s.abortStart(connErr("send config", err))
	}

	var early []byte
	if s.cfg.AwaitAck {
		early, err = s.awaitAck(hsCtx, conn)
		if err != nil {
			return s.abortStart(err)
		}
	}
	s.metrics.RecordHandshake(time.Since(s.started).Seconds())

	s.writeMu.Lock()
	err = s.lifecycle.Transition(StateStreaming)
	closing := s.closePending
	s.writeMu.Unlock()
	if err != nil {
		return s.abortStart(err)
	}
	s.log.Info().
		Str("language", sc.Language).
		Int("sampleRate", sc.SampleRate).
		Msg("Session streaming")

	if early != nil {
		if err := s.handleMessage(early); err != nil {
			s.log.Warn().Err(err).Msg("Backend error in first message")
		}
	}

	s.stopParent = context.AfterFunc(ctx, s.Flush)
	go s.run(context.WithoutCancel(ctx), conn)
	if closing {
		s.log.Debug().Msg("Close requested while connecting, draining")
		s.Flush()
	}
	return nil
}

// awaitAck reads until the backend acknowledges the config. A transcript
// arriving first counts as the ack and is returned for processing.
func (s *Session) awaitAck(ctx context.Context, conn asr.Conn) ([]byte, error) {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: no ack within %s", speech.ErrConnection, s.cfg.HandshakeTimeout)
			}
			return nil, connErr("await ack", err)
		}

		ctl, err := transcript.Classify(data)
		if err != nil {
			s.metrics.RecordBackendError(string(speech.KindProtocol))
			s.log.Warn().Err(err).Msg("Dropping malformed message during handshake")
			continue
		}
		s.metrics.RecordBackendMessage(ctl.String())

		switch ctl {
		case transcript.ControlReady:
			return nil, nil
		case transcript.ControlNone:
			return data, nil
		case transcript.ControlWait:
			return nil, fmt.Errorf("%w: backend busy (wait %s)", speech.ErrConnection, transcript.Detail(data))
		case transcript.ControlError:
			return nil, fmt.Errorf("%w: backend refused session: %s", speech.ErrConnection, transcript.Detail(data))
		case transcript.ControlEnd:
			return nil, fmt.Errorf("%w: backend ended stream during handshake", speech.ErrConnection)
		default:
			s.log.Debug().Bytes("message", data).Msg("Ignoring control message during handshake")
		}
	}
}

func (s *Session) abortStart(err error) error {
	s.lifecycle.Transition(StateErrored)
	s.log.Error().Err(err).Msg("Session start failed")
	s.metrics.RecordBackendError(string(speech.KindOf(err)))
	s.shutdown(err)
	return err
}

// Write splits p into frames and queues them for the backend. When the queue
// is full the oldest frames are dropped.
func (s *Session) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.lifecycle.State() != StateStreaming {
		return ErrNotStreaming
	}
	s.metrics.RecordAudioReceived(len(p))
	for _, f := range s.frames.Write(p) {
		s.enqueue(f)
	}
	return nil
}

// Flush ends the audio input: buffered bytes are sent as a last short frame,
// the end-of-audio marker follows, and the session drains. Idempotent.
func (s *Session) Flush() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.lifecycle.TransitionFrom(StateStreaming, StateDraining) {
		return
	}
	for _, f := range s.frames.Flush() {
		s.enqueue(f)
	}
	s.queue.Close()
	s.log.Debug().Int("queuedFrames", s.queue.Len()).Msg("Session draining")
}

// Close flushes the session and waits for it to end. Called while the
// session is connecting, it lets the handshake finish and then drains.
// Returns the error that ended the session, if any.
func (s *Session) Close() error {
	if s.lifecycle.TransitionFrom(StateIdle, StateClosed) {
		s.shutdown(nil)
		return nil
	}

	s.writeMu.Lock()
	if s.lifecycle.State() == StateConnecting {
		s.closePending = true
	}
	s.writeMu.Unlock()

	s.Flush()
	<-s.done
	return s.err
}

// enqueue must be called with writeMu held.
func (s *Session) enqueue(f audio.Frame) {
	if dropped := s.queue.Push(f); dropped > 0 {
		s.metrics.RecordFramesDropped(dropped)
		s.log.Warn().
			Err(speech.ErrBackpressure).
			Int("dropped", dropped).
			Uint64("seq", f.Seq).
			Msg("Audio queue full, dropped oldest frames")
	}
}

func (s *Session) run(ctx context.Context, conn asr.Conn) {
	g, gctx := errgroup.WithContext(ctx)
	recvCtx, stopRecv := context.WithCancel(gctx)
	defer stopRecv()
	recvDone := make(chan struct{})

	g.Go(func() error {
		return s.send(gctx, conn, stopRecv, recvDone)
	})
	g.Go(func() error {
		defer close(recvDone)
		return s.receive(recvCtx, conn)
	})
	g.Go(func() error {
		return s.watch(gctx, recvDone)
	})

	s.finish(g.Wait())
}

func (s *Session) send(ctx context.Context, conn asr.Conn, stopRecv context.CancelFunc, recvDone <-chan struct{}) error {
	frames := s.queue.Frames()
loop:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				break loop
			}
			if err := conn.SendAudio(ctx, f.Data); err != nil {
				return connErr("send audio", err)
			}
			s.metrics.RecordFrameSent()
		case <-ctx.Done():
			return nil
		}
	}

	if err := conn.SendEndOfAudio(ctx); err != nil {
		return connErr("send end of audio", err)
	}

	grace := time.NewTimer(s.cfg.DrainGrace)
	defer grace.Stop()
	select {
	case <-recvDone:
	case <-grace.C:
		s.log.Debug().Dur("grace", s.cfg.DrainGrace).Msg("Drain grace elapsed, closing backend")
		stopRecv()
		conn.Close()
	case <-ctx.Done():
	}
	return nil
}

func (s *Session) receive(ctx context.Context, conn asr.Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			draining := s.lifecycle.State() == StateDraining
			switch {
			case ctx.Err() != nil:
				return nil
			case draining && errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, io.EOF):
				return fmt.Errorf("%w: backend closed the stream", speech.ErrConnection)
			default:
				return connErr("receive", err)
			}
		}

		if err := s.handleMessage(data); err != nil {
			return err
		}
		if s.backendEnded() && s.lifecycle.State() == StateDraining {
			return nil
		}
	}
}

func (s *Session) watch(ctx context.Context, recvDone <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.mu.Lock()
			s.emit(s.policy.OnTick(now))
			s.mu.Unlock()
		case <-recvDone:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// handleMessage parses one backend message and applies it to the policy.
// Malformed messages are logged and skipped; a backend error status ends
// the session.
func (s *Session) handleMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.parser.Parse(data)
	if err != nil {
		s.metrics.RecordBackendError(string(speech.KindProtocol))
		s.log.Warn().Err(err).Int("size", len(data)).Msg("Dropping malformed backend message")
		return nil
	}
	if u == nil {
		ctl, _ := transcript.Classify(data)
		s.metrics.RecordBackendMessage(ctl.String())
		switch ctl {
		case transcript.ControlError:
			return fmt.Errorf("%w: backend error: %s", speech.ErrConnection, transcript.Detail(data))
		case transcript.ControlWait:
			s.log.Warn().Str("detail", transcript.Detail(data)).Msg("Backend asked to wait mid-stream")
		}
		return nil
	}

	s.metrics.RecordBackendMessage(transcript.ControlNone.String())
	s.emit(s.policy.OnUpdate(u, time.Now()))
	return nil
}

func (s *Session) backendEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser.Ended()
}

// emit must be called with mu held.
func (s *Session) emit(evs []speech.Event) {
	for _, e := range evs {
		s.metrics.RecordEvent(e.Type.String(), string(e.Source))
		s.log.Debug().Str("turnId", e.TurnID).Stringer("event", e).Msg("Speech event")
		s.events.push(e)
	}
}

// finish runs once all tasks have exited.
func (s *Session) finish(err error) {
	now := time.Now()

	s.mu.Lock()
	s.emit(s.policy.Flush(now))
	if err != nil {
		s.metrics.RecordEvent(speech.SessionError.String(), "")
		s.events.push(speech.Event{Type: speech.SessionError, Kind: speech.KindOf(err), Err: err, Time: now})
	}
	s.mu.Unlock()

	if err != nil {
		s.lifecycle.Transition(StateErrored)
		s.metrics.RecordBackendError(string(speech.KindOf(err)))
		s.log.Error().Err(err).Msg("Session failed")
	} else {
		s.lifecycle.Transition(StateClosed)
		s.log.Info().
			Uint64("turns", s.policy.Turns()).
			Dur("duration", time.Since(s.started)).
			Msg("Session closed")
	}
	s.shutdown(err)
}

// shutdown releases resources and signals Done. Called exactly once.
func (s *Session) shutdown(err error) {
	if s.stopParent != nil {
		s.stopParent()
	}
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			s.log.Debug().Err(cerr).Msg("Closing backend connection")
		}
	}

	s.writeMu.Lock()
	s.queue.Close()
	s.writeMu.Unlock()

	if !s.started.IsZero() {
		s.metrics.RecordSessionEnd(string(speech.KindOf(err)), time.Since(s.started).Seconds())
	}
	s.err = err
	s.events.close()
	close(s.done)
}

func connErr(op string, err error) error {
	if errors.Is(err, speech.ErrConnection) || errors.Is(err, speech.ErrProtocol) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", speech.ErrConnection, op, err)
}
