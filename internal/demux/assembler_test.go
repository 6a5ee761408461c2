package demux

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
)

var minimalJPEG = []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}

func newTestAssembler(t *testing.T, capacity, margin int) *Assembler {
	t.Helper()
	a, err := NewAssembler(capacity, margin)
	if err != nil {
		t.Fatalf("NewAssembler(%d, %d) failed: %v", capacity, margin, err)
	}
	return a
}

func mustFeed(t *testing.T, a *Assembler, p []byte) {
	t.Helper()
	if err := a.Feed(p); err != nil {
		t.Fatalf("Feed(%d bytes) failed: %v", len(p), err)
	}
}

func TestNewAssembler_Validation(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		margin   int
		wantErr  bool
	}{
		{"valid", 1 << 20, 100000, false},
		{"zero_margin", 16, 0, false},
		{"zero_capacity", 0, 0, true},
		{"negative_margin", 16, -1, true},
		{"margin_equals_capacity", 16, 16, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAssembler(tt.capacity, tt.margin)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAssembler(%d, %d) error = %v, wantErr %v", tt.capacity, tt.margin, err, tt.wantErr)
			}
		})
	}
}

func TestNext_ExactSpanAndRemainder(t *testing.T) {
	tests := []struct {
		name    string
		prefix  []byte
		payload []byte
		suffix  []byte
	}{
		{"bare", nil, []byte{0x00}, nil},
		{"empty_payload", nil, nil, nil},
		{"garbage_prefix", []byte("--boundary\r\nContent-Type: image/jpeg\r\n\r\n"), []byte{1, 2, 3}, nil},
		{"tail_kept", nil, []byte{0x10, 0x20}, []byte("\r\n--boundary\r\n")},
		{"tail_with_next_start", []byte{0x42}, []byte{0xFF, 0x00}, []byte{0xFF, 0xD8, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append(append([]byte{0xFF, 0xD8}, tt.payload...), 0xFF, 0xD9)
			stream := append(append(append([]byte{}, tt.prefix...), frame...), tt.suffix...)

			a := newTestAssembler(t, 1024, 100)
			mustFeed(t, a, stream)

			got, ok := a.Next()
			if !ok {
				t.Fatalf("Next() found no frame in %x", stream)
			}
			if !bytes.Equal(got, frame) {
				t.Errorf("frame = %x, want %x", got, frame)
			}
			if !bytes.Equal(a.Bytes(), tt.suffix) {
				t.Errorf("remaining = %x, want %x", a.Bytes(), tt.suffix)
			}
		})
	}
}

func TestNext_FrameIsIndependentCopy(t *testing.T) {
	a := newTestAssembler(t, 64, 8)
	mustFeed(t, a, minimalJPEG)

	frame, ok := a.Next()
	if !ok {
		t.Fatal("expected a frame")
	}

	mustFeed(t, a, bytes.Repeat([]byte{0xAA}, 10))
	if !bytes.Equal(frame, minimalJPEG) {
		t.Errorf("frame changed after refilling buffer: %x", frame)
	}
}

func TestNext_StartWithoutEndWaits(t *testing.T) {
	a := newTestAssembler(t, 64, 8)
	mustFeed(t, a, []byte{0xFF, 0xD8, 0x01, 0x02})

	if _, ok := a.Next(); ok {
		t.Fatal("Next() returned a frame without an end marker")
	}
	if a.Len() != 4 {
		t.Errorf("Len() = %d, want 4 (buffer untouched)", a.Len())
	}

	mustFeed(t, a, []byte{0xFF, 0xD9})
	frame, ok := a.Next()
	if !ok {
		t.Fatal("Next() found no frame after end marker arrived")
	}
	if want := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}; !bytes.Equal(frame, want) {
		t.Errorf("frame = %x, want %x", frame, want)
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d, want 0", a.Len())
	}
}

func TestNext_EndMarkerOverlappingStartIgnored(t *testing.T) {
	// FF D8 D9: the D9 shares the start marker's FF and must not end the frame.
	a := newTestAssembler(t, 64, 8)
	mustFeed(t, a, []byte{0xFF, 0xD8, 0xD9, 0x00})

	if _, ok := a.Next(); ok {
		t.Fatal("Next() accepted an end marker overlapping the start marker")
	}
}

func TestNext_AnchorsOnFirstStartMarker(t *testing.T) {
	stream := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD8, 0x02, 0xFF, 0xD9}

	a := newTestAssembler(t, 64, 8)
	mustFeed(t, a, stream)

	frame, ok := a.Next()
	if !ok {
		t.Fatal("expected a frame")
	}
	if !bytes.Equal(frame, stream) {
		t.Errorf("frame = %x, want span from first start marker %x", frame, stream)
	}
}

func TestNext_MultipleFramesInOneFeed(t *testing.T) {
	a := newTestAssembler(t, 64, 8)
	mustFeed(t, a, bytes.Repeat(minimalJPEG, 3))

	count := 0
	for {
		frame, ok := a.Next()
		if !ok {
			break
		}
		count++
		if !bytes.Equal(frame, minimalJPEG) {
			t.Errorf("frame %d = %x, want %x", count, frame, minimalJPEG)
		}
	}
	if count != 3 {
		t.Errorf("extracted %d frames, want 3", count)
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d, want 0", a.Len())
	}
}

func TestNext_ChunkingInvariance(t *testing.T) {
	payload := make([]byte, 4096)
	rng := rand.New(rand.NewSource(42))
	for i := range payload {
		// Keep 0xFF out of the payload so the only markers are the frame's own.
		payload[i] = byte(rng.Intn(0xFF))
	}
	frame := append(append([]byte{0xFF, 0xD8}, payload...), 0xFF, 0xD9)
	stream := append([]byte("HTTP noise before the image"), frame...)

	whole := newTestAssembler(t, 1<<16, 1024)
	mustFeed(t, whole, stream)
	want, ok := whole.Next()
	if !ok {
		t.Fatal("single-chunk feed produced no frame")
	}

	for trial := 0; trial < 50; trial++ {
		a := newTestAssembler(t, 1<<16, 1024)

		var frames [][]byte
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			mustFeed(t, a, rest[:n])
			rest = rest[n:]

			for {
				f, ok := a.Next()
				if !ok {
					break
				}
				frames = append(frames, f)
			}
		}

		if len(frames) != 1 {
			t.Fatalf("trial %d: got %d frames, want 1", trial, len(frames))
		}
		if !bytes.Equal(frames[0], want) {
			t.Fatalf("trial %d: chunked frame differs from single-chunk frame", trial)
		}
	}
}

func TestNext_NoStartMarkerBelowMarginPreserved(t *testing.T) {
	a := newTestAssembler(t, 100, 20)
	data := bytes.Repeat([]byte{0x01, 0xFF, 0xD9}, 20) // 60 bytes, only end markers
	mustFeed(t, a, data)

	if _, ok := a.Next(); ok {
		t.Fatal("Next() returned a frame without a start marker")
	}
	if !bytes.Equal(a.Bytes(), data) {
		t.Error("buffer contents changed below the overflow margin")
	}
	if a.Resets() != 0 {
		t.Errorf("Resets() = %d, want 0", a.Resets())
	}
}

func TestNext_NoStartMarkerAboveMarginResets(t *testing.T) {
	a := newTestAssembler(t, 100, 20)
	mustFeed(t, a, bytes.Repeat([]byte{0x01}, 81)) // 81 > 100-20

	if _, ok := a.Next(); ok {
		t.Fatal("Next() returned a frame from garbage")
	}
	if a.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after overflow reset", a.Len())
	}
	if a.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", a.Resets())
	}

	// Exactly at the threshold is not yet an overflow.
	mustFeed(t, a, bytes.Repeat([]byte{0x01}, 80))
	a.Next()
	if a.Len() != 80 {
		t.Errorf("Len() = %d, want 80 at threshold", a.Len())
	}
}

func TestNext_StartMarkerNearFullNotReset(t *testing.T) {
	a := newTestAssembler(t, 100, 20)
	mustFeed(t, a, append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{0x01}, 90)...))

	if _, ok := a.Next(); ok {
		t.Fatal("unexpected frame")
	}
	if a.Len() != 92 {
		t.Errorf("Len() = %d, want 92 (pending frame kept)", a.Len())
	}
}

func TestFeed_Overrun(t *testing.T) {
	a := newTestAssembler(t, 10, 2)
	mustFeed(t, a, make([]byte, 8))

	err := a.Feed(make([]byte, 3))
	if !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("Feed() error = %v, want ErrBufferOverrun", err)
	}
	if a.Len() != 8 {
		t.Errorf("Len() = %d after failed feed, want 8", a.Len())
	}

	mustFeed(t, a, make([]byte, 2))
	if a.Free() != 0 {
		t.Errorf("Free() = %d, want 0", a.Free())
	}
}

func TestSkipHeader(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus string
		wantBody   string
	}{
		{"crlf", "HTTP/1.1 200 OK\r\nContent-Type: multipart/x-mixed-replace\r\n\r\nBODY", "HTTP/1.1 200 OK", "BODY"},
		{"bare_lf", "HTTP/1.0 200 OK\nServer: mjpg-streamer\n\nBODY", "HTTP/1.0 200 OK", "BODY"},
		{"status_only", "HTTP/1.1 200 OK\r\n\r\n", "HTTP/1.1 200 OK", ""},
		{"non_200_not_validated", "HTTP/1.1 404 Not Found\r\n\r\nxyz", "HTTP/1.1 404 Not Found", "xyz"},
		{"binary_body", "HTTP/1.1 200 OK\r\n\r\n\xff\xd8\x00\xff\xd9", "HTTP/1.1 200 OK", "\xff\xd8\x00\xff\xd9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAssembler(t, 1024, 100)
			mustFeed(t, a, []byte(tt.input))

			status, done, err := a.SkipHeader(512)
			if err != nil {
				t.Fatalf("SkipHeader() error = %v", err)
			}
			if !done {
				t.Fatal("SkipHeader() did not find end of header")
			}
			if status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
			if string(a.Bytes()) != tt.wantBody {
				t.Errorf("body = %q, want %q", a.Bytes(), tt.wantBody)
			}
		})
	}
}

func TestSkipHeader_SplitAcrossFeeds(t *testing.T) {
	input := "HTTP/1.1 200 OK\r\nX-A: 1\r\n\r\n\xff\xd8\x00\xff\xd9"
	a := newTestAssembler(t, 1024, 100)

	for i := 0; i < len(input); i++ {
		mustFeed(t, a, []byte{input[i]})
		status, done, err := a.SkipHeader(512)
		if err != nil {
			t.Fatalf("byte %d: SkipHeader() error = %v", i, err)
		}
		if done {
			if i != strings.Index(input, "\r\n\r\n")+3 {
				t.Fatalf("header completed at byte %d, want at the empty line", i)
			}
			if status != "HTTP/1.1 200 OK" {
				t.Errorf("status = %q", status)
			}
			break
		}
		if a.Len() != i+1 {
			t.Fatalf("buffer modified before header complete: Len() = %d, want %d", a.Len(), i+1)
		}
	}

	mustFeed(t, a, []byte(input[strings.Index(input, "\r\n\r\n")+4:]))
	frame, ok := a.Next()
	if !ok || !bytes.Equal(frame, minimalJPEG) {
		t.Errorf("frame after header = %x, %v", frame, ok)
	}
}

func TestSkipHeader_TooLarge(t *testing.T) {
	a := newTestAssembler(t, 1024, 100)
	mustFeed(t, a, []byte("HTTP/1.1 200 OK\r\nX-Long: "+string(bytes.Repeat([]byte{'a'}, 100))))

	_, done, err := a.SkipHeader(64)
	if done {
		t.Fatal("SkipHeader() reported done without an empty line")
	}
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("SkipHeader() error = %v, want ErrHeaderTooLarge", err)
	}
}
