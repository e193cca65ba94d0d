package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-bridge-service/internal/service/asr"
	bridgespeech "speech-bridge-service/internal/speech"
	"speech-bridge-service/internal/transcript"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"", speechpb.RecognitionConfig_LINEAR16},         // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStreamingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpeechEndTimeout = 800 * time.Millisecond

	sc := cfg.streamingConfig(asr.StreamConfig{Language: "es-ES", SampleRate: 8000})

	if sc.Config.LanguageCode != "es-ES" {
		t.Errorf("expected session language to override, got %s", sc.Config.LanguageCode)
	}
	if sc.Config.SampleRateHertz != 8000 {
		t.Errorf("expected sample rate 8000, got %d", sc.Config.SampleRateHertz)
	}
	if !sc.EnableVoiceActivityEvents {
		t.Error("expected voice activity events enabled")
	}
	if got := sc.VoiceActivityTimeout.GetSpeechEndTimeout().AsDuration(); got != 800*time.Millisecond {
		t.Errorf("expected speech end timeout 800ms, got %v", got)
	}
	if sc.VoiceActivityTimeout.GetSpeechStartTimeout() != nil {
		t.Error("expected no speech start timeout")
	}

	plain := DefaultConfig().streamingConfig(asr.StreamConfig{})
	if plain.Config.LanguageCode != "en-US" || plain.EnableVoiceActivityEvents {
		t.Errorf("unexpected default streaming config %+v", plain)
	}
}

// fakeStream implements speechpb.Speech_StreamingRecognizeClient.
type fakeStream struct {
	grpc.ClientStream
	sent       []*speechpb.StreamingRecognizeRequest
	responses  []*speechpb.StreamingRecognizeResponse
	closedSend bool
	recvErr    error
}

func (f *fakeStream) Send(r *speechpb.StreamingRecognizeRequest) error {
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.responses) == 0 {
		return nil, io.EOF
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeStream) CloseSend() error {
	f.closedSend = true
	return nil
}

func result(text string, final bool) *speechpb.StreamingRecognitionResult {
	return &speechpb.StreamingRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
		IsFinal:      final,
		LanguageCode: "en-us",
	}
}

func TestConn_TranslatesResults(t *testing.T) {
	fs := &fakeStream{responses: []*speechpb.StreamingRecognizeResponse{
		{Results: []*speechpb.StreamingRecognitionResult{result("hel", false)}},
		{SpeechEventType: speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN},
		{Results: []*speechpb.StreamingRecognitionResult{result("hello", false), result(" world", false)}},
		{Results: []*speechpb.StreamingRecognitionResult{result("hello world", true)}},
	}}
	c := newConn(fs, DefaultConfig(), func() {}, zerolog.Nop())
	ctx := context.Background()

	if err := c.SendConfig(ctx, asr.StreamConfig{SessionID: "sess-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fs.sent) != 1 || fs.sent[0].GetStreamingConfig() == nil {
		t.Fatalf("expected streaming config as first request")
	}

	ack, _ := c.Receive(ctx)
	if ctl, _ := transcript.Classify(ack); ctl != transcript.ControlReady {
		t.Fatalf("expected synthesized ack, got %s", ack)
	}

	p := transcript.NewParser(zerolog.Nop())
	var got []*transcript.Update
	for {
		data, err := c.Receive(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		u, err := p.Parse(data)
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		got = append(got, u)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(got))
	}
	if got[0].PendingText != "hel" {
		t.Errorf("expected pending 'hel', got %q", got[0].PendingText)
	}
	if got[1].PendingText != "hello world" {
		t.Errorf("expected joined pending 'hello world', got %q", got[1].PendingText)
	}
	if got[2].FinalText() != "hello world" || got[2].Language != "en-us" {
		t.Errorf("unexpected final update %+v", got[2])
	}
}

func TestConn_SendsOnlyNewLines(t *testing.T) {
	fs := &fakeStream{}
	for _, text := range []string{"one", "two", "three", "four"} {
		fs.responses = append(fs.responses,
			&speechpb.StreamingRecognizeResponse{Results: []*speechpb.StreamingRecognitionResult{result(text, false)}},
			&speechpb.StreamingRecognizeResponse{Results: []*speechpb.StreamingRecognitionResult{result(text, true)}},
		)
	}
	c := newConn(fs, DefaultConfig(), func() {}, zerolog.Nop())
	ctx := context.Background()

	p := transcript.NewParser(zerolog.Nop())
	var finals []string
	for {
		data, err := c.Receive(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var msg transcript.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		if len(msg.Lines) > 1 {
			t.Errorf("expected at most the new line per message, got %d lines", len(msg.Lines))
		}
		u, err := p.Parse(data)
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		if u.HasFinal() {
			finals = append(finals, u.FinalText())
		}
	}

	want := []string{"one", "two", "three", "four"}
	if len(finals) != len(want) {
		t.Fatalf("expected finals %v, got %v", want, finals)
	}
	for i := range want {
		if finals[i] != want[i] {
			t.Errorf("expected finals %v, got %v", want, finals)
			break
		}
	}
	if p.ProcessedLines() != 4 {
		t.Errorf("expected 4 processed lines, got %d", p.ProcessedLines())
	}
}

func TestConn_SendAudioAndEnd(t *testing.T) {
	fs := &fakeStream{}
	c := newConn(fs, DefaultConfig(), func() {}, zerolog.Nop())

	c.SendAudio(context.Background(), []byte{1, 2})
	c.SendEndOfAudio(context.Background())

	if len(fs.sent) != 1 || string(fs.sent[0].GetAudioContent()) != "\x01\x02" {
		t.Errorf("unexpected audio request %v", fs.sent)
	}
	if !fs.closedSend {
		t.Error("expected CloseSend on end of audio")
	}
}

func TestConn_RecvError(t *testing.T) {
	fs := &fakeStream{recvErr: status.Error(codes.ResourceExhausted, "quota exceeded")}
	c := newConn(fs, DefaultConfig(), func() {}, zerolog.Nop())

	_, err := c.Receive(context.Background())
	if !errors.Is(err, bridgespeech.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	calls := 0
	c := newConn(&fakeStream{}, DefaultConfig(), func() { calls++ }, zerolog.Nop())
	c.Close()
	c.Close()
	if calls != 1 {
		t.Errorf("expected cancel once, got %d", calls)
	}
}
