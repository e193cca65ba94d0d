// Package asr defines the interface for streaming ASR backends.
//
// A backend connection is message oriented: the client sends one config
// message, then raw PCM frames, then an end-of-audio marker, and reads JSON
// transcript messages in the lines/buffer_transcription shape understood by
// package transcript.
package asr

import "context"

// StreamConfig describes the session sent to the backend on connect.
type StreamConfig struct {
	SessionID  string
	Language   string
	Model      string
	Task       string
	UseVAD     bool
	SampleRate int
}

// Dialer opens backend connections (WhisperLive, Google, mock, etc.).
type Dialer interface {
	// Dial connects to the backend. ctx bounds the dial only; the returned
	// connection lives until Close. Dial does not send the config message.
	Dial(ctx context.Context, cfg StreamConfig) (Conn, error)
}

// Conn is one open backend stream.
//
// SendConfig, SendAudio and SendEndOfAudio are called from a single sender
// goroutine and Receive from a single receiver goroutine; Close may be called
// from any goroutine and must unblock both.
type Conn interface {
	// SendConfig sends the session configuration message.
	SendConfig(ctx context.Context, cfg StreamConfig) error

	// SendAudio sends one frame of PCM audio.
	SendAudio(ctx context.Context, audio []byte) error

	// SendEndOfAudio tells the backend no more audio will follow.
	SendEndOfAudio(ctx context.Context) error

	// Receive blocks for the next backend message.
	// Returns io.EOF once the backend has closed the stream.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the connection. Idempotent.
	Close() error
}
