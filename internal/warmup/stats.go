package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold: stable if the stddev of instantaneous FPS is
	// below 15% of the mean FPS (30 FPS → stddev < 4.5).
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold: stable if the mean deviation from the
	// expected inter-frame interval is below 20% of it (30 FPS → < 6.6ms).
	jitterStabilityThreshold = 0.20
)

// Stats describes the frame rate observed during a warm-up window.
type Stats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64 // frames / window
	FPSStdDev      float64 // of instantaneous FPS around FPSMean
	FPSMin         float64
	FPSMax         float64
	IsStable       bool
	JitterMean     float64 // seconds
	JitterStdDev   float64 // seconds
	JitterMax      float64 // seconds
}

// CalculateFPSStats computes frame rate statistics from frame timestamps
// collected over window.
//
// Zero-length intervals (two frames stamped in the same clock tick, common
// when several MJPEG frames arrive in one TCP segment) carry no rate
// information and are skipped for the FPS figures.
func CalculateFPSStats(frameTimes []time.Time, window time.Duration) *Stats {
	n := len(frameTimes)
	stats := &Stats{FramesReceived: n, Duration: window}
	if n == 0 || window <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / window.Seconds()

	intervals := make([]float64, 0, n-1)
	instant := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		iv := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		intervals = append(intervals, iv)
		if iv > 0 {
			instant = append(instant, 1.0/iv)
		}
	}
	if len(instant) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instant[0], instant[0]
	for _, fps := range instant {
		stats.FPSMin = min(stats.FPSMin, fps)
		stats.FPSMax = max(stats.FPSMax, fps)
	}
	stats.FPSStdDev = stddev(instant, stats.FPSMean)

	expected := 1.0 / stats.FPSMean
	jitters := make([]float64, len(intervals))
	var sum float64
	for i, iv := range intervals {
		jitters[i] = math.Abs(iv - expected)
		sum += jitters[i]
		stats.JitterMax = max(stats.JitterMax, jitters[i])
	}
	stats.JitterMean = sum / float64(len(jitters))
	stats.JitterStdDev = stddev(jitters, stats.JitterMean)

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold

	return stats
}

func stddev(xs []float64, mean float64) float64 {
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
