// Package bridge is the entry point used by media sessions: it turns a live
// audio source into an ordered stream of speech events.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"speech-bridge-service/internal/observability/metrics"
	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/service/session"
	"speech-bridge-service/internal/speech"
)

// AudioSource yields raw PCM buffers. Read returns io.EOF once the caller has
// no more audio; the session then drains.
type AudioSource interface {
	Read(ctx context.Context) ([]byte, error)
}

// ChannelSource reads buffers from a channel. Closing the channel ends input.
type ChannelSource <-chan []byte

func (c ChannelSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-c:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReaderSource reads fixed-size chunks from an io.Reader.
type ReaderSource struct {
	r     io.Reader
	chunk int
}

// NewReaderSource wraps r. A chunkSize <= 0 defaults to 4 KiB.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &ReaderSource{r: r, chunk: chunkSize}
}

func (s *ReaderSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.chunk)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case n > 0:
		return buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, io.EOF
	default:
		return nil, err
	}
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithSessionIDs overrides how session IDs are generated.
func WithSessionIDs(fn func() string) Option {
	return func(b *Bridge) { b.newID = fn }
}

// Bridge opens independent sessions against one ASR backend.
type Bridge struct {
	dialer  asr.Dialer
	cfg     session.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// New creates a bridge.
func New(dialer asr.Dialer, cfg session.Config, opts ...Option) *Bridge {
	b := &Bridge{
		dialer:  dialer,
		cfg:     cfg,
		log:     log.Logger,
		metrics: metrics.DefaultMetrics,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open starts a session fed by src. It returns once the backend has accepted
// the session; a handshake failure is returned as an error and no stream is
// created. Cancelling ctx drains the session.
func (b *Bridge) Open(ctx context.Context, src AudioSource) (*EventStream, error) {
	return b.OpenWithConfig(ctx, src, b.cfg)
}

// OpenWithConfig is Open with per-call session settings.
func (b *Bridge) OpenWithConfig(ctx context.Context, src AudioSource, cfg session.Config) (*EventStream, error) {
	id := b.newID()
	sess := session.New(id, b.dialer, cfg,
		session.WithLogger(b.log),
		session.WithMetrics(b.metrics),
	)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)
	es := &EventStream{
		sess:   sess,
		cancel: cancel,
		log:    b.log.With().Str("sessionId", id).Logger(),
	}
	go es.feed(feedCtx, src)
	return es, nil
}

// EventStream is the finite event sequence of one session. Events must be
// drained until closed, or the stream closed early with Close.
type EventStream struct {
	sess   *session.Session
	cancel context.CancelFunc
	log    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (es *EventStream) SessionID() string { return es.sess.ID() }

// Events yields speech events in order and is closed when the session ends.
func (es *EventStream) Events() <-chan speech.Event { return es.sess.Events() }

// Done is closed once the underlying session has ended.
func (es *EventStream) Done() <-chan struct{} { return es.sess.Done() }

// Err returns the error that ended the session, if any. Valid after Done.
func (es *EventStream) Err() error { return es.sess.Err() }

// Flush ends audio input without waiting for the source to reach EOF.
func (es *EventStream) Flush() { es.sess.Flush() }

// Close stops reading from the source and drains the session. Events not yet
// consumed are discarded. Safe to call more than once.
func (es *EventStream) Close() error {
	es.closeOnce.Do(func() {
		es.cancel()
		go func() {
			for range es.sess.Events() {
			}
		}()
		es.closeErr = es.sess.Close()
	})
	return es.closeErr
}

func (es *EventStream) feed(ctx context.Context, src AudioSource) {
	defer es.sess.Flush()

	for {
		data, err := src.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				es.log.Debug().Msg("Audio source exhausted")
			case ctx.Err() != nil:
			default:
				es.log.Warn().Err(err).Msg("Audio source failed, draining session")
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := es.sess.Write(data); err != nil {
			if !errors.Is(err, session.ErrNotStreaming) {
				es.log.Warn().Err(err).Msg("Audio write failed")
			}
			return
		}
	}
}
