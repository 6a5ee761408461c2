package mjpeg

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/demux"
)

// Session failures. All of them end one session and are absorbed by the
// reconnect loop; none reaches the frame consumer.
var (
	// ErrConnect wraps DNS and TCP connect failures.
	ErrConnect = errors.New("connect failed")
	// ErrHandshake wraps failures while sending the request or skipping the
	// response header (peer closed, timeout, header too large).
	ErrHandshake = errors.New("handshake failed")
	// ErrRead wraps socket failures and EOF in the streaming phase.
	ErrRead = errors.New("stream read failed")
)

// ErrorCategory represents the classification of session errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryConnect indicates the TCP connection could not be opened
	ErrCategoryConnect ErrorCategory = iota
	// ErrCategoryHandshake indicates the HTTP request/header phase failed
	ErrCategoryHandshake
	// ErrCategoryRead indicates the connection dropped mid-stream
	ErrCategoryRead
	// ErrCategoryOverrun indicates a frame did not fit in the receive buffer
	ErrCategoryOverrun
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryConnect:
		return "connect"
	case ErrCategoryHandshake:
		return "handshake"
	case ErrCategoryRead:
		return "read"
	case ErrCategoryOverrun:
		return "overrun"
	default:
		return "unknown"
	}
}

// Classify maps a session error to its telemetry category. Overrun wins over
// the phase sentinel it may also wrap.
func Classify(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrCategoryUnknown
	case errors.Is(err, demux.ErrBufferOverrun):
		return ErrCategoryOverrun
	case errors.Is(err, ErrConnect):
		return ErrCategoryConnect
	case errors.Is(err, ErrHandshake):
		return ErrCategoryHandshake
	case errors.Is(err, ErrRead):
		return ErrCategoryRead
	default:
		return ErrCategoryUnknown
	}
}
