package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEncodeDecode(t *testing.T) {
	ev := StatusEvent{
		Kind:         KindStats,
		InstanceID:   "pi-kitchen",
		SourceStream: "kitchen",
		Timestamp:    time.Unix(1700000000, 123000000),
		State:        "streaming",
		FrameCount:   1234,
		FPS:          14.5,
		LatencyMS:    12,
		Reconnects:   2,
		Errors:       map[string]uint64{"read": 2},
	}

	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, ev.Timestamp)
	}
	got.Timestamp = ev.Timestamp
	if got.Kind != ev.Kind || got.InstanceID != ev.InstanceID || got.State != ev.State ||
		got.FrameCount != ev.FrameCount || got.FPS != ev.FPS || got.Reconnects != ev.Reconnects ||
		got.Errors["read"] != 2 {
		t.Errorf("Decode() = %+v, want %+v", got, ev)
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Error("Decode() of invalid msgpack succeeded")
	}
}

// fakePublisher records payloads; when gate is non-nil every Publish waits
// on it.
type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	gate     chan struct{}
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, payload []byte) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReporter_PublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReporter(pub, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for _, state := range []string{"connecting", "streaming", "disconnected"} {
		if !r.Report(StatusEvent{Kind: KindState, State: state}) {
			t.Fatalf("Report(%s) dropped", state)
		}
	}

	waitUntil(t, "3 published", func() bool { return pub.count() == 3 })

	pub.mu.Lock()
	defer pub.mu.Unlock()
	ev, err := Decode(pub.payloads[1])
	if err != nil || ev.State != "streaming" {
		t.Errorf("second payload = %+v, %v", ev, err)
	}
	if s := r.Stats(); s.Sent != 3 || s.Dropped != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

// A stalled broker must not stall the caller of Report.
func TestReporter_NeverBlocks(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	r := NewReporter(pub, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Report(StatusEvent{Kind: KindStats})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a stalled publisher")
	}

	// At most buffer + one in flight can be retained.
	if d := r.Stats().Dropped; d < 97 {
		t.Errorf("Dropped = %d, want >= 97", d)
	}
	close(pub.gate)
}

func TestReporter_CountsFailures(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	r := NewReporter(pub, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Report(StatusEvent{Kind: KindState})
	r.Report(StatusEvent{Kind: KindState})

	waitUntil(t, "2 failures", func() bool { return r.Stats().Failed == 2 })
	if r.Stats().Sent != 0 {
		t.Errorf("Sent = %d, want 0", r.Stats().Sent)
	}
}

func TestMQTTEmitter_PublishBeforeConnect(t *testing.T) {
	e := NewMQTTEmitter(MQTTConfig{Broker: "localhost:1883", Topic: "care/capture/x/status"})

	err := e.Publish(context.Background(), []byte{0x80})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if s := e.Stats(); s.Connected || s.Errors != 1 || s.Published != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	e.Disconnect() // no client yet: no-op
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":          "tcp://localhost:1883",
		"tcp://broker:1883":       "tcp://broker:1883",
		"ssl://broker.local:8883": "ssl://broker.local:8883",
	}
	for in, want := range tests {
		if got := BrokerURL(in); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}
