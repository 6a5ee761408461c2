// Package warmup measures the real frame rate of a running stream before a
// consumer commits to a processing rate.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/handoff"
)

// Source is the consumer side of a frame handoff.
type Source interface {
	Next(ctx context.Context) (*handoff.Frame, error)
}

// Run consumes frames from src for duration and reports their rate.
//
// Frames are timestamped at extraction, so the numbers reflect what the
// camera delivers plus network jitter, not consumer speed. An unstable
// stream is logged but not treated as an error; MJPEG cameras over Wi-Fi
// rarely pass the stability thresholds and still stream usefully.
//
// Returns an error if the handoff closes, ctx is cancelled before the window
// ends, or fewer than 2 frames arrive.
func Run(ctx context.Context, src Source, duration time.Duration) (*Stats, error) {
	slog.Info("warmup: starting stream warm-up", "duration", duration)

	start := time.Now()
	frameTimes := make([]time.Time, 0, 128)

	windowCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	for {
		frame, err := src.Next(windowCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("warmup: cancelled after %d frames: %w", len(frameTimes), ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("warmup: stream closed during warm-up: %w", err)
		}

		frameTimes = append(frameTimes, frame.Timestamp)
		slog.Debug("warmup: frame received",
			"seq", frame.Seq,
			"frames_collected", len(frameTimes),
		)
	}

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf("warmup: not enough frames received (got %d, need at least 2)", len(frameTimes))
	}

	stats := CalculateFPSStats(frameTimes, time.Since(start))

	slog.Info("warmup: stream warm-up complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)
	if !stats.IsStable {
		slog.Warn("warmup: stream FPS unstable",
			"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
			"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
			"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		)
	}

	return stats, nil
}
