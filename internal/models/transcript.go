// Package models defines the data structures for published speech events.
package models

// Event type names carried in the eventType field.
const (
	EventTypePartial      = "speech.transcript.partial"
	EventTypeFinal        = "speech.transcript.final"
	EventTypeTurnStarted  = "speech.turn.started"
	EventTypeTurnEnded    = "speech.turn.ended"
	EventTypeSessionError = "speech.session.error"
)

// TranscriptPartial represents an interim transcript the backend may still revise.
type TranscriptPartial struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	InteractionID string `json:"interactionId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	TurnID        string `json:"turnId"`
	Timestamp     int64  `json:"timestamp"`
	Text          string `json:"text"`
	Language      string `json:"language,omitempty"`
}

// TranscriptFinal represents a final transcript. Source is backend,
// stable_timeout or drain.
type TranscriptFinal struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	InteractionID string `json:"interactionId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	TurnID        string `json:"turnId"`
	Timestamp     int64  `json:"timestamp"`
	Text          string `json:"text"`
	Language      string `json:"language,omitempty"`
	Source        string `json:"source"`
}

// TurnEvent marks the start or end of a speaking turn.
type TurnEvent struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	InteractionID string `json:"interactionId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	TurnID        string `json:"turnId"`
	Timestamp     int64  `json:"timestamp"`
}

// SessionError is published once when a session ends on a connection error.
type SessionError struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	InteractionID string `json:"interactionId,omitempty"`
	TenantID      string `json:"tenantId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Kind          string `json:"kind"`
	Message       string `json:"message"`
}

// StreamEvent is the per-event message returned to streaming clients over
// gRPC and WebSocket.
type StreamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId,omitempty"`
	Text      string `json:"text,omitempty"`
	Language  string `json:"language,omitempty"`
	Source    string `json:"source,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
