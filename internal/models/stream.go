package models

import "speech-bridge-service/internal/speech"

// NewStreamEvent converts a session event into its client message.
func NewStreamEvent(sessionID string, e speech.Event) StreamEvent {
	msg := StreamEvent{
		Type:      e.Type.String(),
		SessionID: sessionID,
		TurnID:    e.TurnID,
		Text:      e.Text,
		Language:  e.Language,
		Source:    string(e.Source),
		ErrorKind: string(e.Kind),
		Timestamp: e.Time.UnixMilli(),
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}
