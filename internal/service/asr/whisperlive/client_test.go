package whisperlive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/speech"
)

// fakeServer mimics a WhisperLive server: it acks the handshake, counts
// audio frames and answers the end-of-audio marker with one committed line.
type fakeServer struct {
	handshakes chan handshake
	frames     chan int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{
		handshakes: make(chan handshake, 1),
		frames:     make(chan int, 1),
	}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var hs handshake
		json.Unmarshal(data, &hs)
		fs.handshakes <- hs
		ws.WriteMessage(websocket.TextMessage, []byte(`{"uid": "`+hs.UID+`", "message": "SERVER_READY"}`))

		frames := 0
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				frames++
				continue
			}
			if strings.Contains(string(data), "eof") {
				fs.frames <- frames
				ws.WriteMessage(websocket.TextMessage, []byte(`{"lines": [{"text": "hello world"}], "buffer_transcription": ""}`))
				ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_RoundTrip(t *testing.T) {
	fs, srv := newFakeServer(t)
	d := NewDialer(Config{URL: wsURL(srv), Model: "small", UseVAD: true}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx, asr.StreamConfig{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.SendConfig(ctx, asr.StreamConfig{SessionID: "sess-1", Language: "en", SampleRate: 16000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hs := <-fs.handshakes
	if hs.UID != "sess-1" || hs.Model != "small" || hs.Task != "transcribe" || !hs.UseVAD {
		t.Errorf("unexpected handshake %+v", hs)
	}
	if hs.SampleRate != 16000 {
		t.Errorf("expected sample_rate 16000, got %d", hs.SampleRate)
	}
	if hs.Language == nil || *hs.Language != "en" {
		t.Errorf("expected language en, got %v", hs.Language)
	}

	ack, err := conn.Receive(ctx)
	if err != nil || !strings.Contains(string(ack), "SERVER_READY") {
		t.Fatalf("expected ack, got %s err=%v", ack, err)
	}

	for i := 0; i < 3; i++ {
		if err := conn.SendAudio(ctx, make([]byte, 640)); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	if err := conn.SendEndOfAudio(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := <-fs.frames; n != 3 {
		t.Errorf("expected 3 frames at server, got %d", n)
	}

	msg, err := conn.Receive(ctx)
	if err != nil || !strings.Contains(string(msg), "hello world") {
		t.Fatalf("expected transcript, got %s err=%v", msg, err)
	}
	if _, err := conn.Receive(ctx); err != io.EOF {
		t.Errorf("expected io.EOF on normal close, got %v", err)
	}
}

func TestHandshake_AutoLanguage(t *testing.T) {
	data, _ := json.Marshal(handshake{UID: "x", Task: "transcribe"})
	if !strings.Contains(string(data), `"language":null`) {
		t.Errorf("expected null language for auto-detect, got %s", data)
	}
}

func TestConn_ReceiveHonorsContext(t *testing.T) {
	_, srv := newFakeServer(t)
	d := NewDialer(Config{URL: wsURL(srv)}, zerolog.Nop())

	conn, err := d.Dial(context.Background(), asr.StreamConfig{SessionID: "sess-2"})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	// No handshake sent, so the server stays silent.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := conn.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestConn_ReceiveCancelledAfterBinaryFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for i := 0; i < 3; i++ {
			ws.WriteMessage(websocket.BinaryMessage, []byte{0, 1})
		}
		// Stay silent until the client goes away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	d := NewDialer(Config{URL: wsURL(srv)}, zerolog.Nop())
	conn, err := d.Dial(context.Background(), asr.StreamConfig{SessionID: "sess-3"})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if _, err := conn.Receive(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled receive took %s", elapsed)
	}
}

func TestDialer_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	d := NewDialer(Config{URL: url, HandshakeTimeout: time.Second}, zerolog.Nop())
	_, err := d.Dial(context.Background(), asr.StreamConfig{})
	if !errors.Is(err, speech.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	_, srv := newFakeServer(t)
	d := NewDialer(Config{URL: wsURL(srv)}, zerolog.Nop())

	conn, err := d.Dial(context.Background(), asr.StreamConfig{})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	conn.Close()
	conn.Close()

	if err := conn.SendAudio(context.Background(), []byte{0, 0}); !errors.Is(err, speech.ErrConnection) {
		t.Errorf("expected ErrConnection after close, got %v", err)
	}
}
