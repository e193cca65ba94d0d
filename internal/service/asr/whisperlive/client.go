// Package whisperlive implements asr.Dialer over the WhisperLive websocket
// protocol: a JSON handshake, binary 16-bit PCM frames and a JSON
// end-of-audio marker, with JSON transcript messages flowing back.
package whisperlive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-bridge-service/internal/service/asr"
	"speech-bridge-service/internal/speech"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultPongTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultEndOfAudio   = `{"eof": true}`
)

// Config holds WhisperLive connection settings.
type Config struct {
	URL              string
	Model            string
	Task             string
	UseVAD           bool
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	// EndOfAudio is the text message sent after the last frame.
	EndOfAudio string
	Header     http.Header
}

// handshake is the first message of every session.
type handshake struct {
	UID        string  `json:"uid"`
	Language   *string `json:"language"`
	Task       string  `json:"task"`
	Model      string  `json:"model"`
	UseVAD     bool    `json:"use_vad"`
	SampleRate int     `json:"sample_rate,omitempty"`
}

// Dialer connects to a WhisperLive server.
type Dialer struct {
	cfg    Config
	log    zerolog.Logger
	dialer *websocket.Dialer
}

// NewDialer creates a WhisperLive dialer.
func NewDialer(cfg Config, log zerolog.Logger) *Dialer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.EndOfAudio == "" {
		cfg.EndOfAudio = defaultEndOfAudio
	}
	if cfg.Task == "" {
		cfg.Task = "transcribe"
	}
	return &Dialer{
		cfg: cfg,
		log: log.With().Str("component", "whisperlive").Logger(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial opens the websocket. The handshake is sent by SendConfig.
func (d *Dialer) Dial(ctx context.Context, cfg asr.StreamConfig) (asr.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (status %d)", speech.ErrConnection, d.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", speech.ErrConnection, d.cfg.URL, err)
	}

	c := &Conn{
		cfg:  d.cfg,
		ws:   ws,
		log:  d.log.With().Str("sessionId", cfg.SessionID).Logger(),
		done: make(chan struct{}),
	}
	c.extendReadDeadline(ctx)
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline(context.Background())
		return nil
	})

	c.wg.Add(1)
	go c.pingLoop()

	d.log.Debug().Str("url", d.cfg.URL).Str("sessionId", cfg.SessionID).Msg("connected")
	return c, nil
}

// Conn is one WhisperLive websocket session.
type Conn struct {
	cfg Config
	ws  *websocket.Conn
	log zerolog.Logger

	writeMu sync.Mutex

	// deadlineMu orders read deadline updates against cancellation.
	deadlineMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// SendConfig sends the session handshake.
func (c *Conn) SendConfig(ctx context.Context, cfg asr.StreamConfig) error {
	hs := handshake{
		UID:        cfg.SessionID,
		Task:       c.cfg.Task,
		Model:      c.cfg.Model,
		UseVAD:     c.cfg.UseVAD,
		SampleRate: cfg.SampleRate,
	}
	if cfg.Task != "" {
		hs.Task = cfg.Task
	}
	if cfg.Model != "" {
		hs.Model = cfg.Model
	}
	if cfg.UseVAD {
		hs.UseVAD = true
	}
	if cfg.Language != "" {
		hs.Language = &cfg.Language
	}

	data, err := json.Marshal(hs)
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendAudio sends one binary PCM frame.
func (c *Conn) SendAudio(ctx context.Context, audio []byte) error {
	return c.write(websocket.BinaryMessage, audio)
}

// SendEndOfAudio sends the end-of-audio marker.
func (c *Conn) SendEndOfAudio(ctx context.Context) error {
	return c.write(websocket.TextMessage, []byte(c.cfg.EndOfAudio))
}

// Receive returns the next text message. Binary messages are skipped.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		c.deadlineMu.Lock()
		c.ws.SetReadDeadline(time.Now())
		c.deadlineMu.Unlock()
	})
	defer stop()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: read: %v", speech.ErrConnection, err)
		}
		if err := c.extendReadDeadline(ctx); err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Close sends a close frame and closes the socket. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		err = c.ws.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Conn) write(mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return fmt.Errorf("%w: connection closed", speech.ErrConnection)
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(mt, data); err != nil {
		return fmt.Errorf("%w: write: %v", speech.ErrConnection, err)
	}
	return nil
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.log.Warn().Err(err).Msg("ping failed")
				}
				return
			}
		}
	}
}

// extendReadDeadline pushes the read deadline past the next pong. Once ctx
// is done it leaves the expired deadline in place and returns ctx.Err().
func (c *Conn) extendReadDeadline(ctx context.Context) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.isClosed() {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingInterval + c.cfg.PongTimeout))
	}
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
