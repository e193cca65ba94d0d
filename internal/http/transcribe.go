package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-bridge-service/internal/app"
	"speech-bridge-service/internal/bridge"
	"speech-bridge-service/internal/events"
	"speech-bridge-service/internal/models"
	"speech-bridge-service/internal/observability/logging"
	"speech-bridge-service/internal/observability/metrics"
	"speech-bridge-service/internal/schema"
	"speech-bridge-service/internal/service/session"
)

const writeWait = 5 * time.Second

// TranscribeHandler bridges a WebSocket client to one session. The client
// sends binary PCM frames and ends input with a text message
// {"type": "end"} or by closing; the server answers with one JSON text
// message per speech event. Query parameters interactionId, tenantId and
// language are optional.
type TranscribeHandler struct {
	bridge     *bridge.Bridge
	sessionCfg session.Config
	publisher  events.Sink
	validator  *schema.Validator
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
}

func NewTranscribeHandler(a *app.Application) *TranscribeHandler {
	return &TranscribeHandler{
		bridge:     a.Bridge,
		sessionCfg: a.SessionConfig,
		publisher:  a.Publisher,
		validator:  schema.New(),
		metrics:    a.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *TranscribeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()
	interactionID, tenantID := q.Get("interactionId"), q.Get("tenantId")
	logger := logging.WithInteraction(interactionID, tenantID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	cfg := h.sessionCfg
	if lang := q.Get("language"); lang != "" {
		cfg.Language = lang
	}

	es, err := h.bridge.OpenWithConfig(r.Context(), &wsSource{conn: conn}, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open bridge session")
		closeWith(conn, websocket.CloseTryAgainLater, "asr backend unavailable")
		h.metrics.RecordClientStream("websocket", "Unavailable", time.Since(start).Seconds())
		return
	}
	logger = logger.With().Str("sessionId", es.SessionID()).Logger()
	logger.Info().Str("language", cfg.Language).Msg("Transcribe socket opened")

	relay := events.NewRelay(h.publisher, h.validator, es.SessionID(), interactionID, tenantID, logger)
	writeErr := h.relay(context.WithoutCancel(r.Context()), conn, es, relay, logger)

	<-es.Done()
	code := "OK"
	switch {
	case writeErr != nil:
		code = "Canceled"
	case es.Err() != nil:
		code = "Unavailable"
		closeWith(conn, websocket.CloseInternalServerErr, "session error")
	default:
		closeWith(conn, websocket.CloseNormalClosure, "")
	}
	h.metrics.RecordClientStream("websocket", code, time.Since(start).Seconds())
	logger.Info().Str("code", code).Msg("Transcribe socket closed")
}

func (h *TranscribeHandler) relay(ctx context.Context, conn *websocket.Conn, es *bridge.EventStream, relay *events.Relay, logger zerolog.Logger) error {
	var writeErr error
	for e := range es.Events() {
		relay.Publish(ctx, e)

		if writeErr != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(models.NewStreamEvent(es.SessionID(), e)); err != nil {
			logger.Warn().Err(err).Msg("Client socket lost, draining session")
			writeErr = err
			es.Flush()
		}
	}
	return writeErr
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// wsSource reads audio from the socket for bridge.AudioSource.
type wsSource struct {
	conn *websocket.Conn
}

type controlMessage struct {
	Type string `json:"type"`
	EOF  bool   `json:"eof"`
}

func (s *wsSource) Read(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return data, nil
		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil {
				return nil, fmt.Errorf("invalid control message: %w", err)
			}
			if ctl.EOF || ctl.Type == "end" {
				return nil, io.EOF
			}
		}
	}
}
