package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Reporter decouples event producers (the network goroutine's state hook,
// the stats ticker) from a Publisher that may block on the broker.
//
// Report never blocks: when the buffer is full the event is dropped and
// counted, like frames in the handoff.
type Reporter struct {
	pub    Publisher
	events chan StatusEvent

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// ReporterStats contains reporter statistics
type ReporterStats struct {
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

// NewReporter creates a reporter with room for buffer pending events
// (minimum 1).
func NewReporter(pub Publisher, buffer int) *Reporter {
	return &Reporter{
		pub:    pub,
		events: make(chan StatusEvent, max(buffer, 1)),
	}
}

// Report queues ev for publishing. Returns false if it was dropped.
func (r *Reporter) Report(ev StatusEvent) bool {
	select {
	case r.events <- ev:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Run publishes queued events until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.publish(ctx, ev)
		}
	}
}

func (r *Reporter) publish(ctx context.Context, ev StatusEvent) {
	payload, err := Encode(ev)
	if err != nil {
		r.failed.Add(1)
		slog.Error("telemetry: encode failed", "kind", ev.Kind, "error", err)
		return
	}
	if err := r.pub.Publish(ctx, payload); err != nil {
		r.failed.Add(1)
		slog.Warn("telemetry: publish failed", "kind", ev.Kind, "error", err)
		return
	}
	r.sent.Add(1)
}

// Stats returns reporter statistics
func (r *Reporter) Stats() ReporterStats {
	return ReporterStats{
		Sent:    r.sent.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}
