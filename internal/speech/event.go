// Package speech defines the speech events produced by a bridge session and
// the error taxonomy shared by the session, the parser and the transports.
package speech

import (
	"fmt"
	"time"
)

// EventType identifies the variant of a speech Event.
type EventType int

const (
	// StartOfSpeech opens a turn.
	StartOfSpeech EventType = iota
	// Interim carries text the backend may still revise.
	Interim
	// Final carries text that will not change.
	Final
	// EndOfSpeech closes the turn opened by the preceding StartOfSpeech.
	EndOfSpeech
	// SessionError is always the last event of a failed session.
	SessionError
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case StartOfSpeech:
		return "start_of_speech"
	case Interim:
		return "interim"
	case Final:
		return "final"
	case EndOfSpeech:
		return "end_of_speech"
	case SessionError:
		return "session_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// FinalSource records which path produced a Final event.
type FinalSource string

const (
	SourceBackend       FinalSource = "backend"
	SourceStableTimeout FinalSource = "stable_timeout"
	SourceDrain         FinalSource = "drain"
)

// Event is a single speech event. Only the fields relevant to Type are set:
// Text and Language for Interim and Final, Source for Final, Kind and Err for
// SessionError.
type Event struct {
	Type     EventType
	TurnID   string
	Text     string
	Language string
	Source   FinalSource
	Kind     ErrorKind
	Err      error
	Time     time.Time
}

// String is used in logs and test failure messages.
func (e Event) String() string {
	switch e.Type {
	case Interim, Final:
		return fmt.Sprintf("%s(%q)", e.Type, e.Text)
	case SessionError:
		return fmt.Sprintf("%s(%s: %v)", e.Type, e.Kind, e.Err)
	default:
		return e.Type.String()
	}
}
