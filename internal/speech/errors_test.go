package speech

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"connection", ErrConnection, KindConnection},
		{"wrapped connection", fmt.Errorf("dial: %w", ErrConnection), KindConnection},
		{"protocol", fmt.Errorf("decode: %w", ErrProtocol), KindProtocol},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", fmt.Errorf("handshake: %w", context.DeadlineExceeded), KindCanceled},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestEventType_String(t *testing.T) {
	if StartOfSpeech.String() != "start_of_speech" {
		t.Errorf("unexpected name %s", StartOfSpeech)
	}
	if SessionError.String() != "session_error" {
		t.Errorf("unexpected name %s", SessionError)
	}
	if EventType(42).String() != "unknown(42)" {
		t.Errorf("unexpected name %s", EventType(42))
	}
}

func TestEvent_String(t *testing.T) {
	ev := Event{Type: Final, Text: "hello"}
	if ev.String() != `final("hello")` {
		t.Errorf("unexpected string %s", ev)
	}
}
