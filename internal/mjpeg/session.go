// Package mjpeg owns the network side of MJPEG capture: one TCP session at
// a time, the HTTP handshake, the read loop and the reconnect loop.
package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/demux"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/handoff"
)

// SessionConfig is the per-connection part of the stream configuration.
type SessionConfig struct {
	Host             string
	Port             int
	Path             string
	SourceStream     string
	ReadChunkSize    int           // bytes per socket read
	SocketReadBuffer int           // SO_RCVBUF hint, 0 leaves the OS default
	DialTimeout      time.Duration // 0 means no timeout beyond ctx
	HandshakeTimeout time.Duration // deadline for request + response header, 0 means none
	MaxHeaderBytes   int           // 0 means no cap
}

// Address returns host:port.
func (c SessionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Request returns the literal HTTP request sent on every connection.
func (c SessionConfig) Request() []byte {
	return []byte("GET " + c.Path + " HTTP/1.1\r\n" +
		"Host: " + c.Host + "\r\n" +
		"Connection: keep-alive\r\n\r\n")
}

// Session owns exactly one TCP connection. It never retries; it reports how
// the connection ended and leaves reconnection to RunWithReconnect.
type Session struct {
	ID string

	cfg      SessionConfig
	asm      *demux.Assembler
	out      handoff.Handoff
	counters *Counters
	state    *StateTracker

	established bool
}

// NewSession prepares a session. The assembler is reset when Run starts, so
// no bytes from a previous connection leak into this one.
func NewSession(
	cfg SessionConfig,
	asm *demux.Assembler,
	out handoff.Handoff,
	counters *Counters,
	state *StateTracker,
) *Session {
	return &Session{
		ID:       uuid.New().String(),
		cfg:      cfg,
		asm:      asm,
		out:      out,
		counters: counters,
		state:    state,
	}
}

// Established reports whether the session completed its handshake.
func (s *Session) Established() bool { return s.established }

// Run connects, performs the handshake and streams frames until the
// connection fails or ctx is cancelled.
//
// Cancelling ctx closes the socket, so a Read blocked in the kernel returns
// immediately. Returns nil on cancellation; otherwise an error wrapping
// ErrConnect, ErrHandshake, ErrRead or demux.ErrBufferOverrun.
func (s *Session) Run(ctx context.Context) error {
	s.counters.Sessions.Add(1)
	s.asm.Reset()
	s.state.Set(StateConnecting)
	defer s.state.Set(StateDisconnected)

	slog.Info("mjpeg: connecting",
		"address", s.cfg.Address(),
		"path", s.cfg.Path,
		"session_id", s.ID,
	)

	conn, err := s.dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.cfg.Address(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := s.handshake(conn); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	s.established = true
	s.state.Set(StateStreaming)
	slog.Info("mjpeg: streaming",
		"address", s.cfg.Address(),
		"session_id", s.ID,
	)

	err = s.readLoop(ctx, conn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok && s.cfg.SocketReadBuffer > 0 {
		if err := tcp.SetReadBuffer(s.cfg.SocketReadBuffer); err != nil {
			slog.Debug("mjpeg: socket read buffer hint rejected",
				"size", s.cfg.SocketReadBuffer,
				"error", err,
			)
		}
	}
	return conn, nil
}

// handshake sends the request and consumes the response status line and
// headers. The header is scanned inside the assembler buffer, so body bytes
// that arrive in the same segment stay buffered and are drained here.
func (s *Session) handshake(conn net.Conn) error {
	if s.cfg.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
			return fmt.Errorf("%w: set deadline: %w", ErrHandshake, err)
		}
	}

	if _, err := conn.Write(s.cfg.Request()); err != nil {
		return fmt.Errorf("%w: write request: %w", ErrHandshake, err)
	}

	buf := make([]byte, s.cfg.ReadChunkSize)
	for {
		status, done, err := s.asm.SkipHeader(s.cfg.MaxHeaderBytes)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if done {
			slog.Debug("mjpeg: response header skipped",
				"status", status,
				"session_id", s.ID,
			)
			break
		}

		free := s.asm.Free()
		if free == 0 {
			return fmt.Errorf("%w: %w: header fills the receive buffer", ErrHandshake, demux.ErrHeaderTooLarge)
		}
		n, err := conn.Read(buf[:min(len(buf), free)])
		if n > 0 {
			s.counters.BytesRead.Add(uint64(n))
			if ferr := s.asm.Feed(buf[:n]); ferr != nil {
				return fmt.Errorf("%w: %w", ErrHandshake, ferr)
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: connection closed during header", ErrHandshake)
			}
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}

	if s.cfg.HandshakeTimeout > 0 {
		if err := conn.SetDeadline(time.Time{}); err != nil {
			return fmt.Errorf("%w: clear deadline: %w", ErrHandshake, err)
		}
	}

	s.drain()
	return nil
}

// readLoop performs one blocking read per iteration, feeds the assembler and
// emits every frame that became complete.
//
// Reads are capped at the assembler's free space. A full buffer after
// draining means a start marker with no end marker in sight: the frame is
// larger than the buffer and the session is aborted.
func (s *Session) readLoop(ctx context.Context, conn net.Conn) error {
	buf := make([]byte, s.cfg.ReadChunkSize)

	for ctx.Err() == nil {
		free := s.asm.Free()
		if free == 0 {
			return fmt.Errorf("mjpeg: frame exceeds receive buffer: %w: %d bytes pending",
				demux.ErrBufferOverrun, s.asm.Len())
		}

		n, err := conn.Read(buf[:min(len(buf), free)])
		if n > 0 {
			s.counters.BytesRead.Add(uint64(n))
			if ferr := s.asm.Feed(buf[:n]); ferr != nil {
				return fmt.Errorf("mjpeg: frame exceeds receive buffer: %w", ferr)
			}
			s.drain()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: connection closed by peer", ErrRead)
			}
			return fmt.Errorf("%w: %w", ErrRead, err)
		}
	}
	return nil
}

// drain extracts frames until the assembler has no complete one left.
func (s *Session) drain() {
	resets := s.asm.Resets()

	for {
		data, ok := s.asm.Next()
		if !ok {
			break
		}

		seq := s.counters.Frames.Add(1)
		now := time.Now()
		s.counters.LastFrameAt.Store(now.UnixNano())

		frame := &handoff.Frame{
			Seq:          seq,
			Timestamp:    now,
			Data:         data,
			SourceStream: s.cfg.SourceStream,
			TraceID:      uuid.New().String(),
			SessionID:    s.ID,
		}
		s.out.Publish(frame)

		slog.Debug("mjpeg: frame emitted",
			"seq", seq,
			"size_bytes", len(data),
			"trace_id", frame.TraceID,
		)
	}

	if d := s.asm.Resets() - resets; d > 0 {
		s.counters.BufferResets.Add(d)
		slog.Warn("mjpeg: no start marker near buffer capacity, buffer discarded",
			"capacity", s.asm.Cap(),
			"session_id", s.ID,
		)
	}
}
