// Package telemetry publishes capture status (state transitions and periodic
// stats) to an MQTT broker as msgpack payloads.
package telemetry

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Event kinds.
const (
	KindState = "state" // connection state transition
	KindStats = "stats" // periodic counters snapshot
)

// StatusEvent is the payload published on the status topic.
type StatusEvent struct {
	Kind         string    `msgpack:"kind"`
	InstanceID   string    `msgpack:"instance_id"`
	SourceStream string    `msgpack:"source_stream"`
	Timestamp    time.Time `msgpack:"ts"`

	State     string `msgpack:"state"`
	PrevState string `msgpack:"prev_state,omitempty"`

	FrameCount    uint64            `msgpack:"frame_count"`
	FramesDropped uint64            `msgpack:"frames_dropped"`
	FPS           float64           `msgpack:"fps"`
	LatencyMS     int64             `msgpack:"latency_ms"`
	BytesRead     uint64            `msgpack:"bytes_read"`
	Reconnects    uint32            `msgpack:"reconnects"`
	BufferResets  uint64            `msgpack:"buffer_resets"`
	Errors        map[string]uint64 `msgpack:"errors,omitempty"` // by category
}

// Encode serialises ev with msgpack.
func Encode(ev StatusEvent) ([]byte, error) {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to marshal status event: %w", err)
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (StatusEvent, error) {
	var ev StatusEvent
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return StatusEvent{}, fmt.Errorf("telemetry: failed to unmarshal status event: %w", err)
	}
	return ev, nil
}
