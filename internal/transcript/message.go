// Package transcript decodes ASR backend messages into normalized updates.
//
// The backend sends JSON objects of the form
//
//	{"lines": [{"text": "..."}], "buffer_transcription": "...", "language": "en"}
//
// where lines only ever grow and buffer_transcription is the span the backend
// may still revise. A producer may send just the tail of the line list and set
// line_offset to the index of its first entry. Any object without lines or
// buffer_transcription is a control message.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"speech-bridge-service/internal/speech"
)

// Line is one finalized segment.
type Line struct {
	Text             string `json:"text"`
	Speaker          int    `json:"speaker,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
}

// Message is the transcript payload as sent by the backend.
type Message struct {
	Lines               []Line `json:"lines"`
	LineOffset          int    `json:"line_offset,omitempty"`
	BufferTranscription string `json:"buffer_transcription"`
	Language            string `json:"language,omitempty"`
}

// wireMessage uses pointers to tell absent fields from empty ones.
type wireMessage struct {
	Type                string          `json:"type"`
	Status              string          `json:"status"`
	Message             json.RawMessage `json:"message"`
	EOF                 bool            `json:"eof"`
	Lines               *[]Line         `json:"lines"`
	LineOffset          int             `json:"line_offset"`
	BufferTranscription *string         `json:"buffer_transcription"`
	Language            string          `json:"language"`
}

// messageText returns the message field as text whether the backend sent a
// string or a number.
func (w *wireMessage) messageText() string {
	if len(w.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(w.Message, &s); err == nil {
		return s
	}
	return string(w.Message)
}

func (w *wireMessage) isTranscript() bool {
	return w.Lines != nil || w.BufferTranscription != nil
}

// Control is the classification of a backend message.
type Control int

const (
	// ControlNone means the message carries transcript data.
	ControlNone Control = iota
	// ControlReady acknowledges the session configuration.
	ControlReady
	// ControlWait means the backend is at capacity.
	ControlWait
	// ControlError is a backend-reported failure.
	ControlError
	// ControlEnd means the backend will send nothing further.
	ControlEnd
	// ControlOther is any other out-of-band message.
	ControlOther
)

func (c Control) String() string {
	switch c {
	case ControlNone:
		return "transcript"
	case ControlReady:
		return "ready"
	case ControlWait:
		return "wait"
	case ControlError:
		return "error"
	case ControlEnd:
		return "end"
	default:
		return "other"
	}
}

func decode(data []byte) (*wireMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", speech.ErrProtocol, err)
	}
	if w.LineOffset < 0 {
		return nil, fmt.Errorf("%w: negative line_offset %d", speech.ErrProtocol, w.LineOffset)
	}
	return &w, nil
}

// Classify decodes data and reports what kind of message it is.
func Classify(data []byte) (Control, error) {
	w, err := decode(data)
	if err != nil {
		return ControlOther, err
	}
	return w.control(), nil
}

func (w *wireMessage) control() Control {
	if w.isTranscript() {
		return ControlNone
	}
	if w.EOF {
		return ControlEnd
	}
	switch strings.ToLower(w.Status) {
	case "wait":
		return ControlWait
	case "error":
		return ControlError
	}
	switch strings.ToLower(w.Type) {
	case "config", "ready":
		return ControlReady
	case "ready_to_stop":
		return ControlEnd
	case "error":
		return ControlError
	}
	switch strings.ToUpper(w.messageText()) {
	case "SERVER_READY":
		return ControlReady
	case "DISCONNECT":
		return ControlEnd
	}
	return ControlOther
}

// Detail returns the human-readable part of a control message, if any.
func Detail(data []byte) string {
	w, err := decode(data)
	if err != nil {
		return ""
	}
	if msg := w.messageText(); msg != "" {
		return msg
	}
	return w.Status
}
