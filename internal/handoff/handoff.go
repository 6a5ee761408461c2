// Package handoff moves completed frames from the network goroutine to a
// consumer goroutine without ever blocking the producer.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Two policies are available:
//   - Slot: latest-frame-wins, one atomic pointer swap per operation.
//   - Queue: keeps the newest N frames in order, dropping the oldest.
package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Next once the handoff has been closed and drained.
var ErrClosed = errors.New("handoff closed")

// Handoff is a single-producer, single-consumer frame transfer.
type Handoff interface {
	// Publish stores frame for the consumer. Never blocks. frame must not be nil.
	Publish(frame *Frame)

	// Take removes and returns the oldest retained frame, or nil if none.
	Take() *Frame

	// Next blocks until a frame is available, ctx ends, or the handoff is
	// closed and empty.
	Next(ctx context.Context) (*Frame, error)

	// Drops returns how many frames were discarded unconsumed.
	Drops() uint64

	// Close wakes blocked consumers. Publish after Close is a no-op.
	Close()
}

// New returns a latest-wins Slot for depth <= 1, a Queue otherwise.
func New(depth int) Handoff {
	if depth <= 1 {
		return NewSlot()
	}
	return NewQueue(depth)
}

// Slot is a latest-frame-wins mailbox: a new frame replaces an unconsumed one.
//
// Publish and Take are each a single atomic swap, so neither side can hold up
// the other. ready carries at most one pending wake-up for Next.
type Slot struct {
	frame  atomic.Pointer[Frame]
	drops  atomic.Uint64
	closed atomic.Bool
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewSlot creates an empty Slot.
func NewSlot() *Slot {
	return &Slot{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (s *Slot) Publish(frame *Frame) {
	if s.closed.Load() {
		return
	}
	if old := s.frame.Swap(frame); old != nil {
		s.drops.Add(1)
	}
	notify(s.ready)
}

func (s *Slot) Take() *Frame {
	return s.frame.Swap(nil)
}

func (s *Slot) Next(ctx context.Context) (*Frame, error) {
	for {
		if f := s.Take(); f != nil {
			return f, nil
		}
		if s.closed.Load() {
			// A Publish may have landed between Take and the closed check.
			if f := s.Take(); f != nil {
				return f, nil
			}
			return nil, ErrClosed
		}

		select {
		case <-s.ready:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Slot) Drops() uint64 { return s.drops.Load() }

func (s *Slot) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// notify leaves a wake-up token in ch unless one is already pending.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
