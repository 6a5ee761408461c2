package mjpeg

import "sync/atomic"

// ConnectionState is the observable status of the network worker.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateStreaming
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// StateHook is called on every real transition, on the network goroutine.
// It must return quickly.
type StateHook func(old, new ConnectionState)

// StateTracker publishes the connection state to any goroutine.
// Only the network worker writes; readers use Load.
type StateTracker struct {
	v    atomic.Int32
	hook StateHook
}

// NewStateTracker starts in StateDisconnected. hook may be nil.
func NewStateTracker(hook StateHook) *StateTracker {
	return &StateTracker{hook: hook}
}

// Set stores s and fires the hook if the state changed.
func (t *StateTracker) Set(s ConnectionState) {
	old := ConnectionState(t.v.Swap(int32(s)))
	if old != s && t.hook != nil {
		t.hook(old, s)
	}
}

// Load returns the current state.
func (t *StateTracker) Load() ConnectionState {
	return ConnectionState(t.v.Load())
}
