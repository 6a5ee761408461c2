package mjpeg

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/demux"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/handoff"
)

var minimalJPEG = []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9}

const okHeader = "HTTP/1.1 200 OK\r\n\r\n"

// mockServer is a TCP listener that reads one HTTP request per connection and
// hands the connection to handler.
type mockServer struct {
	ln       net.Listener
	accepted atomic.Int32

	mu       sync.Mutex
	requests []string
	conns    []net.Conn
}

func newMockServer(t *testing.T, handler func(conn net.Conn)) *mockServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &mockServer{ln: ln}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepted.Add(1)
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()

			go func() {
				req, ok := readRequest(conn)
				if !ok {
					conn.Close()
					return
				}
				s.mu.Lock()
				s.requests = append(s.requests, req)
				s.mu.Unlock()
				handler(conn)
			}()
		}
	}()

	t.Cleanup(s.Close)
	return s
}

func (s *mockServer) Close() {
	s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *mockServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *mockServer) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// readRequest reads up to and including the empty line ending the request.
func readRequest(conn net.Conn) (string, bool) {
	r := bufio.NewReader(conn)
	var sb strings.Builder
	for {
		line, err := r.ReadString('\n')
		sb.WriteString(line)
		if err != nil {
			return sb.String(), false
		}
		if line == "\r\n" {
			return sb.String(), true
		}
	}
}

// holdOpen keeps the connection open until the peer closes it.
func holdOpen(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			conn.Close()
			return
		}
	}
}

// transitionRecorder collects state transitions from the network goroutine.
type transitionRecorder struct {
	mu          sync.Mutex
	transitions []transition
}

type transition struct {
	from, to ConnectionState
	at       time.Time
}

func (r *transitionRecorder) hook(old, new ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{from: old, to: new, at: time.Now()})
}

func (r *transitionRecorder) snapshot() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.transitions...)
}

func (r *transitionRecorder) count(from, to ConnectionState) int {
	n := 0
	for _, tr := range r.snapshot() {
		if tr.from == from && tr.to == to {
			n++
		}
	}
	return n
}

// waitFor polls cond until it is true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

type sessionFixture struct {
	cfg      SessionConfig
	asm      *demux.Assembler
	out      handoff.Handoff
	counters *Counters
	state    *StateTracker
	rec      *transitionRecorder
}

func newSessionFixture(t *testing.T, port, capacity, margin, depth int) *sessionFixture {
	t.Helper()

	asm, err := demux.NewAssembler(capacity, margin)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	rec := &transitionRecorder{}

	return &sessionFixture{
		cfg: SessionConfig{
			Host:             "127.0.0.1",
			Port:             port,
			Path:             "/?action=stream",
			SourceStream:     "test",
			ReadChunkSize:    min(4096, margin),
			SocketReadBuffer: 1 << 20,
			DialTimeout:      time.Second,
			HandshakeTimeout: 2 * time.Second,
			MaxHeaderBytes:   min(4096, capacity),
		},
		asm:      asm,
		out:      handoff.New(depth),
		counters: &Counters{},
		state:    NewStateTracker(rec.hook),
		rec:      rec,
	}
}

func (f *sessionFixture) session() *Session {
	return NewSession(f.cfg, f.asm, f.out, f.counters, f.state)
}
