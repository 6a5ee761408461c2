package mjpeg

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig contains configuration for fixed-delay reconnection
type ReconnectConfig struct {
	Delay      time.Duration // Pause between sessions (default: 2 seconds)
	MaxRetries int           // Consecutive failed sessions before giving up (0 = never)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Delay:      2 * time.Second,
		MaxRetries: 0,
	}
}

// ReconnectState tracks the current state of reconnection attempts
type ReconnectState struct {
	CurrentRetries int           // Only touched by the reconnect goroutine
	Reconnects     atomic.Uint32 // Total reconnection attempts, read by Stats
}

// ConnectFunc runs one session to completion. It returns nil when ctx was
// cancelled and an error for every other way the session can end.
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect runs connectFn repeatedly until ctx is cancelled.
//
// After each session that ends while ctx is still live, it sleeps for
// cfg.Delay and starts another. The delay is fixed, not exponential.
//
// Returns nil on cancellation, or an error once cfg.MaxRetries consecutive
// sessions have failed (never, with MaxRetries == 0). connectFn should call
// ResetReconnectState when its session reaches streaming.
func RunWithReconnect(
	ctx context.Context,
	connectFn ConnectFunc,
	cfg ReconnectConfig,
	state *ReconnectState,
) error {
	for {
		if ctx.Err() != nil {
			slog.Info("mjpeg: context cancelled, stopping reconnection")
			return nil
		}

		err := connectFn(ctx)
		if ctx.Err() != nil {
			slog.Info("mjpeg: context cancelled, stopping reconnection")
			return nil
		}
		if err == nil {
			err = fmt.Errorf("%w: session ended", ErrRead)
		}

		state.CurrentRetries++
		slog.Error("mjpeg: session ended",
			"error", err,
			"category", Classify(err).String(),
			"attempt", state.CurrentRetries,
		)

		if cfg.MaxRetries > 0 && state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("mjpeg: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		state.Reconnects.Add(1)
		slog.Warn("mjpeg: retrying connection",
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", cfg.Delay,
		)

		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			slog.Info("mjpeg: context cancelled during backoff")
			return nil
		}
	}
}

// ResetReconnectState resets the retry counter after a session reached
// streaming, so only consecutive failures count toward MaxRetries.
func ResetReconnectState(state *ReconnectState) {
	state.CurrentRetries = 0
	slog.Debug("mjpeg: reconnect state reset")
}
