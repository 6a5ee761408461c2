package handoff

import "time"

// Frame is one complete JPEG image cut out of the MJPEG stream.
//
// IMMUTABILITY CONTRACT:
//   - The demuxer copies Data out of its receive buffer before publishing,
//     so the frame never aliases network memory.
//   - Neither producer nor consumer may modify Data after Publish.
type Frame struct {
	// Seq is the stream-wide frame counter value at emission (1-based).
	Seq uint64

	// Timestamp is when the end marker was seen.
	Timestamp time.Time

	// Data holds the JPEG bytes from SOI through EOI inclusive.
	Data []byte

	// SourceStream identifies the stream (e.g., "front-camera").
	SourceStream string

	// TraceID is a unique identifier for distributed tracing.
	TraceID string

	// SessionID identifies the TCP connection that produced the frame.
	SessionID string
}
