package demux

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrBufferOverrun is returned by Feed when the bytes do not fit in the
	// remaining capacity. The overflow reset in Next keeps this from
	// happening for marker-less garbage, so it only fires for a frame larger
	// than the buffer.
	ErrBufferOverrun = errors.New("receive buffer overrun")

	// ErrHeaderTooLarge is returned by SkipHeader when no empty line was found
	// within the configured header limit.
	ErrHeaderTooLarge = errors.New("response header too large")
)

// Assembler owns a fixed-capacity receive buffer and extracts complete
// JPEG frames from it.
//
// Valid bytes always start at offset 0; extracting a frame left-shifts the
// remaining tail. Not safe for concurrent use.
type Assembler struct {
	buf    []byte
	length int
	margin int
	resets uint64
}

// NewAssembler allocates a receive buffer of the given capacity. When no
// start marker is present and fewer than margin bytes remain free, Next
// discards the buffer.
func NewAssembler(capacity, margin int) (*Assembler, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("demux: invalid capacity %d", capacity)
	}
	if margin < 0 || margin >= capacity {
		return nil, fmt.Errorf("demux: invalid overflow margin %d (capacity %d)", margin, capacity)
	}
	return &Assembler{
		buf:    make([]byte, capacity),
		margin: margin,
	}, nil
}

// Len returns the number of valid bytes in the buffer.
func (a *Assembler) Len() int { return a.length }

// Cap returns the buffer capacity.
func (a *Assembler) Cap() int { return len(a.buf) }

// Free returns the number of bytes Feed can still accept.
func (a *Assembler) Free() int { return len(a.buf) - a.length }

// Bytes returns a view of the valid bytes. The view is invalidated by the
// next call to Feed, Next, SkipHeader or Reset.
func (a *Assembler) Bytes() []byte { return a.buf[:a.length] }

// Resets returns how many times the overflow policy discarded the buffer.
func (a *Assembler) Resets() uint64 { return a.resets }

// Reset empties the buffer. Used at the start of every connection.
func (a *Assembler) Reset() { a.length = 0 }

// Feed appends p to the buffer.
func (a *Assembler) Feed(p []byte) error {
	if a.length+len(p) > len(a.buf) {
		return fmt.Errorf("%w: %d buffered + %d new > %d capacity",
			ErrBufferOverrun, a.length, len(p), len(a.buf))
	}
	a.length += copy(a.buf[a.length:], p)
	return nil
}

// Next extracts the first complete frame in the buffer.
//
// The frame spans from the first start marker through the first end marker
// that begins at least two bytes after it, both inclusive. The returned
// slice is an independent copy; everything up to the end of the frame is
// dropped from the buffer.
//
// When there is no complete frame, Next returns false and leaves the buffer
// untouched, except for the overflow reset: with no start marker at all and
// fewer than margin free bytes, the buffer is emptied.
func (a *Assembler) Next() ([]byte, bool) {
	start := IndexMarker(a.buf, a.length, StartMarker, 0)
	if start < 0 {
		if a.length > len(a.buf)-a.margin {
			a.length = 0
			a.resets++
		}
		return nil, false
	}

	end := IndexMarker(a.buf, a.length, EndMarker, start+len(StartMarker))
	if end < 0 {
		return nil, false
	}
	stop := end + len(EndMarker)

	frame := make([]byte, stop-start)
	copy(frame, a.buf[start:stop])
	a.discard(stop)

	return frame, true
}

// SkipHeader consumes an HTTP status line and header block from the front
// of the buffer.
//
// Lines end in "\n" with an optional preceding "\r"; the block ends at the
// first empty line. Until that line has been fed, SkipHeader returns
// done == false and leaves the buffer untouched. Once found, the header is
// discarded and any body bytes that arrived with it stay buffered. status is
// the first line without its terminator.
func (a *Assembler) SkipHeader(limit int) (status string, done bool, err error) {
	pos := 0
	for {
		i := bytes.IndexByte(a.buf[pos:a.length], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(a.buf[pos:pos+i], []byte{'\r'})
		if pos == 0 {
			status = string(line)
		}
		pos += i + 1
		if len(line) == 0 {
			a.discard(pos)
			return status, true, nil
		}
	}

	if limit > 0 && a.length >= limit {
		return status, false, fmt.Errorf("%w: no end of header within %d bytes", ErrHeaderTooLarge, limit)
	}
	return status, false, nil
}

// discard drops the first n valid bytes and shifts the tail to offset 0.
func (a *Assembler) discard(n int) {
	remaining := copy(a.buf, a.buf[n:a.length])
	a.length = remaining
}
