package mjpeg

import (
	"sync/atomic"
	"time"
)

// Counters holds the stream statistics shared between the network worker
// (writer) and Stats callers (readers). They survive reconnects.
type Counters struct {
	Frames       atomic.Uint64 // frames emitted, also the frame sequence
	BytesRead    atomic.Uint64
	Sessions     atomic.Uint64 // connection attempts
	BufferResets atomic.Uint64 // overflow resets of the receive buffer
	LastFrameAt  atomic.Int64  // unix nanoseconds, 0 before the first frame

	ErrorsConnect   atomic.Uint64
	ErrorsHandshake atomic.Uint64
	ErrorsRead      atomic.Uint64
	ErrorsOverrun   atomic.Uint64
	ErrorsUnknown   atomic.Uint64
}

// CountError increments the counter for err's category and returns it.
func (c *Counters) CountError(err error) ErrorCategory {
	category := Classify(err)
	switch category {
	case ErrCategoryConnect:
		c.ErrorsConnect.Add(1)
	case ErrCategoryHandshake:
		c.ErrorsHandshake.Add(1)
	case ErrCategoryRead:
		c.ErrorsRead.Add(1)
	case ErrCategoryOverrun:
		c.ErrorsOverrun.Add(1)
	default:
		c.ErrorsUnknown.Add(1)
	}
	return category
}

// LastFrame returns the time of the last emitted frame, zero if none.
func (c *Counters) LastFrame() time.Time {
	ns := c.LastFrameAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
