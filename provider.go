package mjpegcapture

import (
	"context"
	"time"
)

// StreamProvider defines the contract for MJPEG frame acquisition
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - Start() while running and Stop() while stopped are no-ops
//   - Latest() never blocks
//   - Stats(), State() and FrameCount() are safe from any goroutine
type StreamProvider interface {
	// Start launches the network worker. Frames become available once the
	// first session reaches StateStreaming.
	Start(ctx context.Context) error

	// Stop cancels the worker, closes the socket and waits up to the
	// configured stop timeout. After Stop, State() is StateDisconnected.
	Stop() error

	// Latest takes the most recent unconsumed frame, if any.
	Latest() (*Frame, bool)

	// Next blocks until a frame is available, ctx ends, or the stream stops.
	Next(ctx context.Context) (*Frame, error)

	// State returns the current connection state.
	State() ConnectionState

	// FrameCount returns the number of frames extracted so far.
	FrameCount() uint64

	// Stats returns current stream statistics.
	Stats() StreamStats

	// Warmup consumes frames for duration and reports the real frame rate.
	// Frames consumed here are not seen by Latest or Next.
	Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error)
}

var _ StreamProvider = (*MJPEGStream)(nil)
