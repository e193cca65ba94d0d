package speech

import (
	"context"
	"errors"
)

// Error taxonomy. Only ErrConnection terminates a session; the others are
// absorbed and logged where they happen.
var (
	ErrConnection   = errors.New("asr connection error")
	ErrProtocol     = errors.New("asr protocol error")
	ErrBackpressure = errors.New("audio frame dropped")
)

// ErrorKind is the machine-readable kind carried by SessionError events.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindConnection ErrorKind = "connection"
	KindProtocol   ErrorKind = "protocol"
	KindCanceled   ErrorKind = "canceled"
	KindUnknown    ErrorKind = "unknown"
)

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
