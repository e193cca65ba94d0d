// Package grpcapi serves the bidirectional Transcribe stream: audio chunks in,
// speech events out. Every event is also published to Kafka.
package grpcapi

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-bridge-service/internal/bridge"
	"speech-bridge-service/internal/events"
	"speech-bridge-service/internal/models"
	"speech-bridge-service/internal/observability/logging"
	"speech-bridge-service/internal/schema"
	"speech-bridge-service/internal/service/session"
)

type Server struct {
	bridge     *bridge.Bridge
	sessionCfg session.Config
	publisher  events.Sink
	validator  *schema.Validator
}

// Register creates the service and registers it on g.
func Register(g grpc.ServiceRegistrar, b *bridge.Bridge, cfg session.Config, publisher events.Sink) *Server {
	s := &Server{
		bridge:     b,
		sessionCfg: cfg,
		publisher:  publisher,
		validator:  schema.New(),
	}
	RegisterSpeechBridgeServer(g, s)
	return s
}

// Transcribe bridges one client stream to one session. The session's events
// are sent back in order; if the client goes away the session drains and the
// remaining events are still published.
func (s *Server) Transcribe(stream TranscribeServerStream) error {
	ctx := stream.Context()

	first, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return status.Error(codes.InvalidArgument, "stream closed before the first audio chunk")
	}
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx).With().
		Str("interactionId", first.InteractionID).
		Str("tenantId", first.TenantID).
		Logger()

	cfg := s.sessionCfg
	if first.Language != "" {
		cfg.Language = first.Language
	}

	src := &chunkSource{stream: stream, pending: first}
	es, err := s.bridge.OpenWithConfig(ctx, src, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open bridge session")
		return status.Errorf(codes.Unavailable, "asr backend unavailable: %v", err)
	}

	logger = logger.With().Str("sessionId", es.SessionID()).Logger()
	logger.Info().Str("language", cfg.Language).Msg("Transcribe stream opened")

	relay := events.NewRelay(s.publisher, s.validator, es.SessionID(), first.InteractionID, first.TenantID, logger)
	sendErr := s.relay(context.WithoutCancel(ctx), stream, es, relay, logger)

	<-es.Done()
	if err := es.Err(); err != nil {
		logger.Warn().Err(err).Msg("Transcribe stream ended with session error")
	} else {
		logger.Info().Msg("Transcribe stream closed")
	}
	return sendErr
}

func (s *Server) relay(ctx context.Context, stream TranscribeServerStream, es *bridge.EventStream, relay *events.Relay, logger zerolog.Logger) error {
	var sendErr error
	for e := range es.Events() {
		relay.Publish(ctx, e)

		if sendErr != nil {
			continue
		}
		msg := models.NewStreamEvent(es.SessionID(), e)
		if err := stream.Send(&msg); err != nil {
			logger.Warn().Err(err).Msg("Client stream lost, draining session")
			sendErr = err
		}
	}
	return sendErr
}

// chunkSource adapts the receive side of the stream to bridge.AudioSource.
type chunkSource struct {
	stream  TranscribeServerStream
	pending *AudioChunk
	ended   bool
}

func (c *chunkSource) Read(ctx context.Context) ([]byte, error) {
	for {
		if c.pending != nil {
			chunk := c.pending
			c.pending = nil
			if chunk.EndOfAudio {
				c.ended = true
			}
			if len(chunk.Audio) > 0 {
				return chunk.Audio, nil
			}
			continue
		}
		if c.ended {
			return nil, io.EOF
		}
		chunk, err := c.stream.Recv()
		if err != nil {
			return nil, err
		}
		c.pending = chunk
	}
}
