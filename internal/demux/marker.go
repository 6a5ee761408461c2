// Package demux splits a raw MJPEG byte stream into JPEG frames.
//
// The package is pure: no I/O, no goroutines, no logging. The caller owns the
// Assembler and feeds it from a single goroutine.
package demux

import "bytes"

// JPEG Start Of Image and End Of Image markers.
var (
	StartMarker = []byte{0xFF, 0xD8}
	EndMarker   = []byte{0xFF, 0xD9}
)

// IndexMarker returns the lowest offset >= from at which marker occurs
// contiguously within buf[:length], or -1.
//
// Bytes at or beyond length are never read, so a marker whose last byte
// would sit at offset length is not reported.
func IndexMarker(buf []byte, length int, marker []byte, from int) int {
	if length > len(buf) {
		length = len(buf)
	}
	if from < 0 {
		from = 0
	}
	if len(marker) == 0 || from+len(marker) > length {
		return -1
	}

	i := bytes.Index(buf[from:length], marker)
	if i < 0 {
		return -1
	}
	return from + i
}
