// Transcript Viewer - real-time display of speech bridge events.
// Consumes the partial, final and turn topics from Kafka and relays them to
// the browser over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

// SpeechEvent is any message published by the bridge. Fields not carried by
// a given event type are left empty.
type SpeechEvent struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	InteractionID string `json:"interactionId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	TurnID        string `json:"turnId,omitempty"`
	Text          string `json:"text,omitempty"`
	Language      string `json:"language,omitempty"`
	Source        string `json:"source,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Message       string `json:"message,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan SpeechEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan SpeechEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("Client connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("Client disconnected. Total: %d", len(h.clients))

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(event); err != nil {
					log.Printf("Write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				_, _, err := conn.ReadMessage()
				if err != nil {
					break
				}
			}
		}()
	}
}

// consumeKafka reads one topic. Without a group it reads partition 0 only,
// which works through a port-forward; events are keyed by session, so a
// multi-partition topic needs a group to see every session.
func consumeKafka(ctx context.Context, hub *Hub, brokers, topic, group string) {
	cfg := kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group != "" {
		cfg.GroupID = group
		cfg.StartOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	if group == "" {
		// Last hour of messages
		reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour))
		log.Printf("Consuming from Kafka topic: %s partition 0 (last hour)", topic)
	} else {
		log.Printf("Consuming from Kafka topic: %s group %s", topic, group)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Kafka read error on %s: %v", topic, err)
				time.Sleep(time.Second)
				continue
			}

			var event SpeechEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.Printf("JSON unmarshal error: %v", err)
				continue
			}

			log.Printf("Received %s: %s (turn: %s)", event.EventType, truncate(event.Text, 40), event.TurnID)
			select {
			case hub.broadcast <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "speech.transcript.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "speech.transcript.final", "Final transcript topic")
	topicTurn := flag.String("topic-turn", "speech.turn", "Turn and session lifecycle topic")
	group := flag.String("group", "", "Kafka consumer group (empty reads partition 0 only)")
	flag.Parse()

	hub := newHub()
	go hub.run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start Kafka consumers
	go consumeKafka(ctx, hub, *brokers, *topicPartial, *group)
	go consumeKafka(ctx, hub, *brokers, *topicFinal, *group)
	go consumeKafka(ctx, hub, *brokers, *topicTurn, *group)

	// Serve static files
	staticFS, _ := fs.Sub(staticFiles, "static")
	http.Handle("/", http.FileServer(http.FS(staticFS)))

	// WebSocket endpoint
	http.HandleFunc("/ws", wsHandler(hub))

	log.Printf("Transcript Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s, %s", *topicPartial, *topicFinal, *topicTurn)

	if err := http.ListenAndServe(":"+*port, nil); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

