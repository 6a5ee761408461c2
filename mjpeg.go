package mjpegcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/demux"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/handoff"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mjpeg"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

var (
	// ErrNotStarted is returned by Next and Warmup before Start.
	ErrNotStarted = errors.New("mjpeg-capture: stream not started")
	// ErrClosed is returned by Next once the stream has stopped or the worker
	// gave up reconnecting.
	ErrClosed = handoff.ErrClosed
)

// MJPEGStream implements StreamProvider over a raw TCP socket
type MJPEGStream struct {
	// Configuration
	cfg          MJPEGConfig
	sessionCfg   mjpeg.SessionConfig
	reconnectCfg mjpeg.ReconnectConfig

	// lifecycle serializes Start and Stop. Stop holds it while waiting for
	// the worker; consumers and Stats never take it.
	lifecycle sync.Mutex

	// mu guards the fields below. It is only held for field copies.
	mu      sync.RWMutex
	current *streamRun // latest run, kept after Stop so Next reports ErrClosed
	running bool

	// Totals carried over from previous runs
	prevDrops      uint64
	prevReconnects uint32

	// Shared with the network worker
	counters mjpeg.Counters
	state    atomic.Pointer[mjpeg.StateTracker]
}

// streamRun is everything owned by one Start..Stop cycle. A worker abandoned
// by a Stop timeout writes only into its own run and the shared counters.
type streamRun struct {
	cancel        context.CancelFunc
	done          chan struct{}
	out           handoff.Handoff
	reconnect     *mjpeg.ReconnectState
	state         *mjpeg.StateTracker
	started       time.Time
	framesAtStart uint64
}

// NewMJPEGStream creates a new MJPEG stream with fail-fast validation
//
// Zero-valued fields take the Default* values. Validation:
//   - Host must not be empty, Port must be 1-65535
//   - Path must start with "/"
//   - OverflowMargin < BufferCapacity, ReadChunkSize <= OverflowMargin
//   - MaxHeaderBytes <= BufferCapacity
//   - durations, counts and HandoffDepth must not be negative
//
// Nothing is dialled until Start.
func NewMJPEGStream(cfg MJPEGConfig) (*MJPEGStream, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &MJPEGStream{
		cfg: cfg,
		sessionCfg: mjpeg.SessionConfig{
			Host:             cfg.Host,
			Port:             cfg.Port,
			Path:             cfg.Path,
			SourceStream:     cfg.SourceStream,
			ReadChunkSize:    cfg.ReadChunkSize,
			SocketReadBuffer: cfg.SocketReadBuffer,
			DialTimeout:      cfg.DialTimeout,
			HandshakeTimeout: cfg.HandshakeTimeout,
			MaxHeaderBytes:   cfg.MaxHeaderBytes,
		},
		reconnectCfg: mjpeg.ReconnectConfig{
			Delay:      cfg.ReconnectDelay,
			MaxRetries: cfg.MaxReconnectAttempts,
		},
	}
	s.state.Store(s.newStateTracker())

	slog.Info("mjpeg-capture: MJPEG stream created",
		"address", s.sessionCfg.Address(),
		"path", cfg.Path,
		"source_stream", cfg.SourceStream,
		"buffer_capacity", cfg.BufferCapacity,
		"reconnect_delay", cfg.ReconnectDelay,
		"handoff_depth", cfg.HandoffDepth,
	)

	return s, nil
}

func (c MJPEGConfig) withDefaults() MJPEGConfig {
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.OverflowMargin == 0 {
		c.OverflowMargin = DefaultOverflowMargin
	}
	if c.ReadChunkSize == 0 {
		c.ReadChunkSize = DefaultReadChunkSize
	}
	if c.SocketReadBuffer == 0 {
		c.SocketReadBuffer = DefaultSocketReadBuffer
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if c.HandoffDepth == 0 {
		c.HandoffDepth = 1
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

func (c MJPEGConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("mjpeg-capture: host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("mjpeg-capture: invalid port %d (must be 1-65535)", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("mjpeg-capture: path must start with '/' (got %q)", c.Path)
	}
	if c.BufferCapacity < 0 || c.OverflowMargin < 0 || c.ReadChunkSize < 0 ||
		c.SocketReadBuffer < 0 || c.MaxHeaderBytes < 0 {
		return fmt.Errorf("mjpeg-capture: buffer sizes must not be negative")
	}
	if c.OverflowMargin >= c.BufferCapacity {
		return fmt.Errorf("mjpeg-capture: overflow margin %d must be less than buffer capacity %d",
			c.OverflowMargin, c.BufferCapacity)
	}
	if c.ReadChunkSize > c.OverflowMargin {
		return fmt.Errorf("mjpeg-capture: read chunk size %d must not exceed overflow margin %d",
			c.ReadChunkSize, c.OverflowMargin)
	}
	if c.MaxHeaderBytes > c.BufferCapacity {
		return fmt.Errorf("mjpeg-capture: max header bytes %d must not exceed buffer capacity %d",
			c.MaxHeaderBytes, c.BufferCapacity)
	}
	if c.ReconnectDelay < 0 || c.DialTimeout < 0 || c.HandshakeTimeout < 0 || c.StopTimeout < 0 {
		return fmt.Errorf("mjpeg-capture: durations must not be negative")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("mjpeg-capture: max reconnect attempts must not be negative")
	}
	if c.HandoffDepth < 0 {
		return fmt.Errorf("mjpeg-capture: handoff depth must not be negative")
	}
	return nil
}

// newStateTracker returns a tracker whose hook only fires while it is the
// stream's current tracker.
func (s *MJPEGStream) newStateTracker() *mjpeg.StateTracker {
	var tracker *mjpeg.StateTracker
	tracker = mjpeg.NewStateTracker(func(old, new ConnectionState) {
		if s.cfg.OnStateChange != nil && s.state.Load() == tracker {
			s.cfg.OnStateChange(old, new)
		}
	})
	return tracker
}

// Start launches the network worker and returns immediately.
//
// Calling Start on a running stream is a no-op. After the worker gives up
// (MaxReconnectAttempts exceeded) the stream still counts as running until
// Stop is called.
func (s *MJPEGStream) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running {
		slog.Debug("mjpeg-capture: stream already running, start ignored")
		return nil
	}

	asm, err := demux.NewAssembler(s.cfg.BufferCapacity, s.cfg.OverflowMargin)
	if err != nil {
		return fmt.Errorf("mjpeg-capture: failed to create assembler: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &streamRun{
		cancel:        cancel,
		done:          make(chan struct{}),
		out:           handoff.New(s.cfg.HandoffDepth),
		reconnect:     &mjpeg.ReconnectState{},
		state:         s.newStateTracker(),
		started:       time.Now(),
		framesAtStart: s.counters.Frames.Load(),
	}
	s.state.Store(run.state)

	s.mu.Lock()
	s.current = run
	s.running = true
	s.mu.Unlock()

	slog.Info("mjpeg-capture: starting MJPEG stream",
		"address", s.sessionCfg.Address(),
		"path", s.cfg.Path,
	)

	go s.run(runCtx, asm, run)
	return nil
}

// run is the network worker: sessions in a fixed-delay reconnect loop.
func (s *MJPEGStream) run(ctx context.Context, asm *demux.Assembler, run *streamRun) {
	defer close(run.done)
	defer run.out.Close()

	connectFn := func(ctx context.Context) error {
		sess := mjpeg.NewSession(s.sessionCfg, asm, run.out, &s.counters, run.state)
		err := sess.Run(ctx)
		if sess.Established() {
			mjpeg.ResetReconnectState(run.reconnect)
		}
		if err != nil {
			s.counters.CountError(err)
		}
		return err
	}

	err := mjpeg.RunWithReconnect(ctx, connectFn, s.reconnectCfg, run.reconnect)
	if err != nil {
		slog.Error("mjpeg-capture: stream stopped after reconnection failure",
			"error", err,
			"address", s.sessionCfg.Address(),
			"uptime", time.Since(run.started),
			"frames_processed", s.counters.Frames.Load(),
			"reconnects", run.reconnect.Reconnects.Load(),
		)
	}
}

// Stop cancels the worker and waits up to StopTimeout for it to exit.
//
// Cancelling closes the active socket, so a read blocked in the kernel
// returns at once. Consumers blocked in Next are woken with ErrClosed.
// Idempotent: Stop on a stopped stream returns nil. Latest, Next and Stats
// do not wait for Stop.
//
// Returns an error if the timeout elapsed; the worker is then abandoned and
// exits on its own. Its later state changes are not observable.
func (s *MJPEGStream) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running {
		slog.Debug("mjpeg-capture: stream not started, nothing to stop")
		return nil
	}
	run := s.current

	slog.Info("mjpeg-capture: stopping MJPEG stream")

	run.cancel()
	run.out.Close()

	var stopErr error
	select {
	case <-run.done:
		slog.Debug("mjpeg-capture: worker stopped cleanly")
	case <-time.After(s.cfg.StopTimeout):
		slog.Warn("mjpeg-capture: stop timeout exceeded, worker abandoned",
			"timeout", s.cfg.StopTimeout,
		)
		// Detach the abandoned worker: it keeps its own tracker, the stream
		// reads a fresh one.
		s.state.Store(s.newStateTracker())
		if old := run.state.Load(); old != StateDisconnected && s.cfg.OnStateChange != nil {
			s.cfg.OnStateChange(old, StateDisconnected)
		}
		stopErr = fmt.Errorf("mjpeg-capture: stop timeout exceeded (%v)", s.cfg.StopTimeout)
	}

	s.mu.Lock()
	s.prevDrops += run.out.Drops()
	s.prevReconnects += run.reconnect.Reconnects.Load()
	s.running = false
	reconnects := s.prevReconnects
	s.mu.Unlock()

	slog.Info("mjpeg-capture: MJPEG stream stopped",
		"frames_captured", s.counters.Frames.Load(),
		"reconnects", reconnects,
		"uptime", time.Since(run.started),
	)

	return stopErr
}

// currentHandoff returns the current run's handoff, nil before the first Start.
func (s *MJPEGStream) currentHandoff() handoff.Handoff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return s.current.out
}

// Latest takes the newest unconsumed frame. Never blocks.
func (s *MJPEGStream) Latest() (*Frame, bool) {
	out := s.currentHandoff()
	if out == nil {
		return nil, false
	}
	f := out.Take()
	return f, f != nil
}

// Next blocks until a frame is available, ctx ends, or the stream stops.
func (s *MJPEGStream) Next(ctx context.Context) (*Frame, error) {
	out := s.currentHandoff()
	if out == nil {
		return nil, ErrNotStarted
	}
	return out.Next(ctx)
}

// State returns the current connection state.
func (s *MJPEGStream) State() ConnectionState {
	return s.state.Load().Load()
}

// FrameCount returns the number of frames extracted since creation.
func (s *MJPEGStream) FrameCount() uint64 {
	return s.counters.Frames.Load()
}

// Stats returns current stream statistics
//
// Thread-safe: counters are atomic, run fields are copied under mu.
func (s *MJPEGStream) Stats() StreamStats {
	var started time.Time
	var framesAtStart uint64

	s.mu.RLock()
	drops := s.prevDrops
	reconnects := s.prevReconnects
	if s.running {
		drops += s.current.out.Drops()
		reconnects += s.current.reconnect.Reconnects.Load()
	}
	if s.current != nil {
		started = s.current.started
		framesAtStart = s.current.framesAtStart
	}
	s.mu.RUnlock()

	frameCount := s.counters.Frames.Load()
	state := s.State()

	var fpsReal float64
	if !started.IsZero() {
		if uptime := time.Since(started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount-framesAtStart) / uptime
		}
	}

	var dropRate float64
	if frameCount > 0 {
		dropRate = float64(drops) / float64(frameCount) * 100.0
	}

	var latencyMS int64
	if last := s.counters.LastFrame(); !last.IsZero() {
		latencyMS = time.Since(last).Milliseconds()
	}

	return StreamStats{
		FrameCount:      frameCount,
		FramesDropped:   drops,
		DropRate:        dropRate,
		FPSReal:         fpsReal,
		LatencyMS:       latencyMS,
		BytesRead:       s.counters.BytesRead.Load(),
		Reconnects:      reconnects,
		Sessions:        s.counters.Sessions.Load(),
		BufferResets:    s.counters.BufferResets.Load(),
		State:           state,
		IsConnected:     state == StateStreaming,
		SourceStream:    s.cfg.SourceStream,
		ErrorsConnect:   s.counters.ErrorsConnect.Load(),
		ErrorsHandshake: s.counters.ErrorsHandshake.Load(),
		ErrorsRead:      s.counters.ErrorsRead.Load(),
		ErrorsOverrun:   s.counters.ErrorsOverrun.Load(),
	}
}

// Warmup consumes frames for duration and reports the real frame rate.
//
// Blocks for the whole duration. An unstable stream is reported through
// WarmupStats.IsStable, not as an error.
func (s *MJPEGStream) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	out := s.currentHandoff()
	if !running || out == nil {
		return nil, ErrNotStarted
	}

	stats, err := warmup.Run(ctx, out, duration)
	if err != nil {
		return nil, fmt.Errorf("mjpeg-capture: %w", err)
	}
	return stats, nil
}
