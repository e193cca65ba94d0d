package mock

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/transcript"
)

func dial(t *testing.T, d *Dialer) *Conn {
	t.Helper()
	conn, err := d.Dial(context.Background(), asr.StreamConfig{SessionID: "sess-1", Language: "en"})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	return conn.(*Conn)
}

func receive(t *testing.T, c *Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := c.Receive(ctx)
	if err != nil {
		t.Fatalf("unexpected receive error: %v", err)
	}
	return msg
}

func TestDialer_AckOnConfig(t *testing.T) {
	c := dial(t, NewDialer())
	c.SendConfig(context.Background(), asr.StreamConfig{SessionID: "sess-1", Language: "en"})

	ctl, err := transcript.Classify(receive(t, c))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctl != transcript.ControlReady {
		t.Errorf("expected ready, got %s", ctl)
	}
	if cfg, ok := c.Config(); !ok || cfg.SessionID != "sess-1" {
		t.Errorf("expected config recorded, got %+v", cfg)
	}
}

func TestDialer_ProgressiveTranscripts(t *testing.T) {
	utt := SimulatedUtterance{Partials: []string{"I want", "I want to"}, Final: "I want to go"}
	c := dial(t, NewDialer(WithUtterances(utt), WithoutAck()))
	c.SendConfig(context.Background(), asr.StreamConfig{SessionID: "sess-1"})

	p := transcript.NewParser(zerolog.Nop())
	var pendings []string
	var finals []string
	for i := 0; i < 3; i++ {
		c.SendAudio(context.Background(), make([]byte, 320))
		u, err := p.Parse(receive(t, c))
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		if u.HasFinal() {
			finals = append(finals, u.FinalText())
		} else {
			pendings = append(pendings, u.PendingText)
		}
	}

	if len(pendings) != 2 || pendings[0] != "I want" || pendings[1] != "I want to" {
		t.Errorf("unexpected pendings %v", pendings)
	}
	if len(finals) != 1 || finals[0] != "I want to go" {
		t.Errorf("unexpected finals %v", finals)
	}
	if frames, bytes := c.Frames(); frames != 3 || bytes != 960 {
		t.Errorf("expected 3 frames / 960 bytes, got %d / %d", frames, bytes)
	}
}

func TestDialer_EndOfAudioCommitsAndStops(t *testing.T) {
	utt := SimulatedUtterance{Partials: []string{"a", "a b"}, Final: "a b c"}
	c := dial(t, NewDialer(WithUtterances(utt), WithoutAck()))
	c.SendConfig(context.Background(), asr.StreamConfig{})
	c.SendAudio(context.Background(), []byte{0, 0})
	receive(t, c)

	if err := c.SendEndOfAudio(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.EOFSent() {
		t.Error("expected EOF recorded")
	}

	u, err := transcript.NewParser(zerolog.Nop()).Parse(receive(t, c))
	if err != nil || u.FinalText() != "a b c" {
		t.Fatalf("expected committed line at end of audio, got %+v err=%v", u, err)
	}
	if ctl, _ := transcript.Classify(receive(t, c)); ctl != transcript.ControlEnd {
		t.Errorf("expected ready_to_stop, got %s", ctl)
	}
	if _, err := c.Receive(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after stop, got %v", err)
	}
	if err := c.SendAudio(context.Background(), []byte{0, 0}); err == nil {
		t.Error("expected error for audio after end of audio")
	}
}

func TestDialer_Script(t *testing.T) {
	c := dial(t, NewDialer(WithScript(`{"buffer_transcription": "hello"}`)))
	c.SendConfig(context.Background(), asr.StreamConfig{})
	receive(t, c) // ack

	if got := string(receive(t, c)); got != `{"buffer_transcription": "hello"}` {
		t.Errorf("unexpected scripted message %s", got)
	}

	c.SendAudio(context.Background(), []byte{0, 0})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("scripted conn must not simulate audio, got %v", err)
	}
}

func TestDialer_Failure(t *testing.T) {
	boom := errors.New("connection reset")
	c := dial(t, NewDialer(WithFailure(2, boom)))
	c.SendConfig(context.Background(), asr.StreamConfig{})
	receive(t, c)

	c.SendAudio(context.Background(), []byte{0, 0})
	c.SendAudio(context.Background(), []byte{0, 0})

	if _, err := c.Receive(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected failure error, got %v", err)
	}
}

func TestDialer_DialError(t *testing.T) {
	boom := errors.New("refused")
	d := NewDialer(WithDialError(boom))
	if _, err := d.Dial(context.Background(), asr.StreamConfig{}); !errors.Is(err, boom) {
		t.Errorf("expected dial error, got %v", err)
	}
	if len(d.Conns()) != 0 {
		t.Error("expected no connections recorded")
	}
}

func TestConn_CloseUnblocksReceive(t *testing.T) {
	c := dial(t, NewDialer(WithoutAck()))

	done := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()
	c.Close()

	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("expected io.EOF after close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock on Close")
	}
	if !c.Closed() {
		t.Error("expected Closed() true")
	}
}
