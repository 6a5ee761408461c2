package handoff

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
)

// Queue retains up to depth frames in wire order. When full, Publish drops the
// oldest frame, so a slow consumer sees a short, fresh backlog rather than a
// growing stale one.
type Queue struct {
	mu     sync.Mutex
	frames *queue.Queue
	depth  int
	closed bool

	drops atomic.Uint64
	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewQueue creates a Queue holding at most depth frames (minimum 1).
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{
		frames: queue.New(),
		depth:  depth,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *Queue) Publish(frame *Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	for q.frames.Length() >= q.depth {
		q.frames.Remove()
		q.drops.Add(1)
	}
	q.frames.Add(frame)
	q.mu.Unlock()

	notify(q.ready)
}

func (q *Queue) Take() *Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frames.Length() == 0 {
		return nil
	}
	return q.frames.Remove().(*Frame)
}

func (q *Queue) Next(ctx context.Context) (*Frame, error) {
	for {
		f, closed := q.takeOrClosed()
		if f != nil {
			return f, nil
		}
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// takeOrClosed checks for a frame and for Close under one lock, so a frame
// published just before Close is never reported as ErrClosed.
func (q *Queue) takeOrClosed() (*Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frames.Length() > 0 {
		return q.frames.Remove().(*Frame), false
	}
	return nil, q.closed
}

// Len returns the number of retained frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Length()
}

func (q *Queue) Drops() uint64 { return q.drops.Load() }

func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}
