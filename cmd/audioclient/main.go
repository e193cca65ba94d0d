// Command audioclient streams a 16-bit PCM WAV file to the speech bridge over
// gRPC in real time and prints the speech events it gets back.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "speech-bridge-service/internal/api/grpc"
	"speech-bridge-service/internal/audio"
	"speech-bridge-service/internal/observability/logging"
)

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	interactionId := flag.String("interaction", "test-audio-"+time.Now().Format("150405"), "Interaction ID")
	tenantId := flag.String("tenant", "tenant-demo", "Tenant ID")
	language := flag.String("language", "", "Language hint (empty for server default)")
	chunkMs := flag.Int("chunk", 100, "Chunk duration in milliseconds")
	expectRate := flag.Int("rate", 16000, "Sample rate the server is configured for")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.RFC3339})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio file")
	}
	defer f.Close()

	info, err := audio.ReadWAVHeader(f)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid WAV file")
	}
	log.Info().
		Uint16("channels", info.Channels).
		Uint32("sampleRate", info.SampleRate).
		Uint16("bitsPerSample", info.BitsPerSample).
		Msg("WAV file")
	if int(info.SampleRate) != *expectRate {
		log.Warn().Uint32("sampleRate", info.SampleRate).Int("expected", *expectRate).Msg("Sample rate mismatch")
	}

	format := info.Format(audio.Format{FrameDuration: time.Duration(*chunkMs) * time.Millisecond})
	chunkSize := format.FrameBytes()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()

	client := grpcapi.NewSpeechBridgeClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stream, err := client.Transcribe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create stream")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		receive(stream)
	}()

	log.Info().Str("interactionId", *interactionId).Str("tenantId", *tenantId).Msg("Streaming audio")

	first := &grpcapi.AudioChunk{InteractionID: *interactionId, TenantID: *tenantId, Language: *language}
	if err := stream.Send(first); err != nil {
		log.Fatal().Err(err).Msg("Failed to send metadata")
	}

	buf := make([]byte, chunkSize)
	var totalBytes, chunks int
	start := time.Now()
	ticker := time.NewTicker(format.FrameDuration)
	defer ticker.Stop()

	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if err := stream.Send(&grpcapi.AudioChunk{Audio: buf[:n]}); err != nil {
				log.Error().Err(err).Msg("Failed to send audio")
				break
			}
			chunks++
			totalBytes += n
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Error().Err(err).Msg("Failed to read audio")
			}
			break
		}
		// Pace to real time.
		<-ticker.C
	}

	log.Info().
		Int("chunks", chunks).
		Int("bytes", totalBytes).
		Dur("elapsed", time.Since(start)).
		Msg("Finished streaming, waiting for final transcripts")

	if err := stream.CloseSend(); err != nil {
		log.Error().Err(err).Msg("Failed to close send")
	}
	<-done
}

func receive(stream grpcapi.TranscribeClientStream) {
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Info().Msg("Stream completed")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Stream failed")
			return
		}

		switch ev.Type {
		case "interim":
			log.Info().Str("turnId", ev.TurnID).Str("text", ev.Text).Msg("Interim")
		case "final":
			log.Info().Str("turnId", ev.TurnID).Str("text", ev.Text).Str("source", ev.Source).Msg("Final")
		case "session_error":
			log.Error().Str("kind", ev.ErrorKind).Str("error", ev.Error).Msg("Session error")
		default:
			log.Info().Str("turnId", ev.TurnID).Str("type", ev.Type).Msg("Turn")
		}
	}
}
