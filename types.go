package mjpegcapture

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/handoff"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mjpeg"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

// Frame is one complete JPEG (SOI through EOI) with capture metadata.
// Frames are immutable once delivered.
type Frame = handoff.Frame

// ConnectionState is the observable status of the network worker.
type ConnectionState = mjpeg.ConnectionState

const (
	StateDisconnected = mjpeg.StateDisconnected
	StateConnecting   = mjpeg.StateConnecting
	StateStreaming    = mjpeg.StateStreaming
)

// WarmupStats contains statistics collected during stream warm-up phase
type WarmupStats = warmup.Stats

// Defaults applied by NewMJPEGStream to zero-valued MJPEGConfig fields.
const (
	DefaultBufferCapacity   = 1 << 20
	DefaultOverflowMargin   = 100000
	DefaultReadChunkSize    = 64 << 10
	DefaultSocketReadBuffer = 1 << 20
	DefaultReconnectDelay   = 2 * time.Second
	DefaultDialTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultMaxHeaderBytes   = 16 << 10
	DefaultStopTimeout      = time.Second
)

// MJPEGConfig contains configuration for MJPEG stream capture
type MJPEGConfig struct {
	// Host is the camera host name or IP (required)
	Host string
	// Port is the TCP port (required, 1-65535)
	Port int
	// Path is the request path including query, e.g. "/?action=stream"
	Path string
	// SourceStream labels every frame (e.g., "kitchen", "LQ")
	SourceStream string

	// BufferCapacity bounds the largest frame that can be assembled
	BufferCapacity int
	// OverflowMargin: with no start marker and fewer than this many free
	// bytes, the receive buffer is discarded
	OverflowMargin int
	// ReadChunkSize is the maximum bytes per socket read (<= OverflowMargin)
	ReadChunkSize int
	// SocketReadBuffer is the SO_RCVBUF hint
	SocketReadBuffer int

	// ReconnectDelay is the fixed pause between sessions
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the number of consecutive failed sessions
	// tolerated before the worker gives up (0 = retry forever)
	MaxReconnectAttempts int

	// DialTimeout bounds the TCP connect
	DialTimeout time.Duration
	// HandshakeTimeout bounds sending the request and reading the header
	HandshakeTimeout time.Duration
	// MaxHeaderBytes caps the response header size
	MaxHeaderBytes int

	// HandoffDepth is 1 (or 0) for latest-frame-wins, N > 1 for a queue of
	// the newest N frames
	HandoffDepth int
	// StopTimeout bounds how long Stop waits for the worker
	StopTimeout time.Duration

	// OnStateChange is called on every state transition, on the network
	// goroutine. It must not block.
	OnStateChange func(old, new ConnectionState)
}

// StreamStats contains current stream statistics
type StreamStats struct {
	// FrameCount is the total number of frames extracted
	FrameCount uint64
	// FramesDropped is the number of frames replaced before the consumer took them
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// FPSReal is frames extracted per second since Start
	FPSReal float64
	// LatencyMS is the time since the last frame in milliseconds
	LatencyMS int64
	// BytesRead is the total bytes read from the socket
	BytesRead uint64
	// Reconnects is the number of reconnection attempts
	Reconnects uint32
	// Sessions is the number of connection attempts
	Sessions uint64
	// BufferResets counts receive buffer overflow resets
	BufferResets uint64
	// State is the current connection state
	State ConnectionState
	// IsConnected is true while streaming
	IsConnected bool
	// SourceStream identifies the stream
	SourceStream string

	// Error telemetry by category
	ErrorsConnect   uint64
	ErrorsHandshake uint64
	ErrorsRead      uint64
	ErrorsOverrun   uint64
}
