// Package google provides a Google Cloud Speech-to-Text backend.
//
// Streaming results are translated into the lines/buffer_transcription
// message shape: final results become committed lines, the concatenation of
// the current non-final results becomes the buffer.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/durationpb"

	"speech-bridge-service/internal/service/asr"
	bridgespeech "speech-bridge-service/internal/speech"
	"speech-bridge-service/internal/transcript"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Model          string
	// SpeechEndTimeout enables voice activity events and ends the stream
	// after this much trailing silence. Zero leaves it to the service.
	SpeechEndTimeout   time.Duration
	SpeechStartTimeout time.Duration
}

// DefaultConfig returns the default Google STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding converts a string to the speechpb encoding, falling back
// to LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// streamingConfig builds the first request of a stream.
func (c Config) streamingConfig(sc asr.StreamConfig) *speechpb.StreamingRecognitionConfig {
	lang := c.LanguageCode
	if sc.Language != "" {
		lang = sc.Language
	}
	rate := c.SampleRateHz
	if sc.SampleRate > 0 {
		rate = sc.SampleRate
	}
	model := c.Model
	if sc.Model != "" {
		model = sc.Model
	}

	cfg := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(c.AudioEncoding),
			SampleRateHertz:            int32(rate),
			LanguageCode:               lang,
			Model:                      model,
			EnableAutomaticPunctuation: true,
		},
		InterimResults: c.InterimResults,
	}
	if c.SpeechEndTimeout > 0 || c.SpeechStartTimeout > 0 {
		cfg.EnableVoiceActivityEvents = true
		timeout := &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{}
		if c.SpeechStartTimeout > 0 {
			timeout.SpeechStartTimeout = durationpb.New(c.SpeechStartTimeout)
		}
		if c.SpeechEndTimeout > 0 {
			timeout.SpeechEndTimeout = durationpb.New(c.SpeechEndTimeout)
		}
		cfg.VoiceActivityTimeout = timeout
	}
	return cfg
}

// Dialer implements asr.Dialer using Google Cloud Speech-to-Text.
type Dialer struct {
	client *speech.Client
	cfg    Config
	log    zerolog.Logger
}

// NewDialer creates a Google STT dialer.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func NewDialer(ctx context.Context, cfg Config, log zerolog.Logger) (*Dialer, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Dialer{
		client: c,
		cfg:    cfg,
		log:    log.With().Str("component", "google_stt").Logger(),
	}, nil
}

// Dial opens a streaming recognition session.
func (d *Dialer) Dial(ctx context.Context, sc asr.StreamConfig) (asr.Conn, error) {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := d.client.StreamingRecognize(sctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: streaming recognize: %v", bridgespeech.ErrConnection, err)
	}
	return newConn(stream, d.cfg, cancel, d.log.With().Str("sessionId", sc.SessionID).Logger()), nil
}

// Close releases the underlying client.
func (d *Dialer) Close() error {
	return d.client.Close()
}

// Conn implements asr.Conn over one StreamingRecognize call.
type Conn struct {
	stream speechpb.Speech_StreamingRecognizeClient
	cfg    Config
	cancel context.CancelFunc
	log    zerolog.Logger

	mu        sync.Mutex
	pending   [][]byte
	committed int // final lines already reported

	closeOnce sync.Once
}

func newConn(stream speechpb.Speech_StreamingRecognizeClient, cfg Config, cancel context.CancelFunc, log zerolog.Logger) *Conn {
	return &Conn{stream: stream, cfg: cfg, cancel: cancel, log: log}
}

// SendConfig sends the streaming config. Google sends no ack, so one is
// queued locally.
func (c *Conn) SendConfig(ctx context.Context, sc asr.StreamConfig) error {
	err := c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: c.cfg.streamingConfig(sc),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: send config: %v", bridgespeech.ErrConnection, err)
	}
	c.mu.Lock()
	c.pending = append(c.pending, []byte(`{"type": "config"}`))
	c.mu.Unlock()
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (c *Conn) SendAudio(ctx context.Context, audio []byte) error {
	err := c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: send audio: %v", bridgespeech.ErrConnection, err)
	}
	return nil
}

// SendEndOfAudio half-closes the stream.
func (c *Conn) SendEndOfAudio(ctx context.Context) error {
	return c.stream.CloseSend()
}

// Receive returns the next translated transcript message.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()
		return msg, nil
	}
	c.mu.Unlock()

	for {
		resp, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: recv: %v", bridgespeech.ErrConnection, err)
		}
		if st := resp.GetError(); st != nil {
			return nil, fmt.Errorf("%w: recognize: %s", bridgespeech.ErrConnection, st.GetMessage())
		}

		msg, ok := c.translate(resp)
		if !ok {
			c.log.Trace().Str("event", resp.GetSpeechEventType().String()).Msg("skipping response without results")
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal transcript: %w", err)
		}
		return data, nil
	}
}

// translate turns one response into a message carrying only the lines
// finalized by this response, offset by the lines reported before.
func (c *Conn) translate(resp *speechpb.StreamingRecognizeResponse) (*transcript.Message, bool) {
	results := resp.GetResults()
	if len(results) == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := []transcript.Line{}
	var buffer []string
	var lang string
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if r.GetLanguageCode() != "" {
			lang = r.GetLanguageCode()
		}
		if r.GetIsFinal() {
			fresh = append(fresh, transcript.Line{Text: text, DetectedLanguage: r.GetLanguageCode()})
			continue
		}
		if text != "" {
			buffer = append(buffer, text)
		}
	}

	msg := &transcript.Message{
		Lines:               fresh,
		LineOffset:          c.committed,
		BufferTranscription: strings.Join(buffer, " "),
		Language:            lang,
	}
	c.committed += len(fresh)
	return msg, true
}

// Close cancels the stream. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}
