package main

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"time"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/config"
)

// saveFrame writes the frame bytes unchanged; they already are a JPEG.
func saveFrame(outputDir string, frame *mjpegcapture.Frame) (string, error) {
	name := filepath.Join(outputDir, fmt.Sprintf("frame_%06d.jpg", frame.Seq))
	if err := os.WriteFile(name, frame.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write frame: %w", err)
	}
	return name, nil
}

// decodeDimensions reads only the JPEG header.
func decodeDimensions(data []byte) (width, height int, err error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func printBanner(cfg *config.Config) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║          MJPEG Capture - Orion 2.0 Module                 ║\n")
	fmt.Printf("║                      Version %s                       ║\n", version)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Stream URL:      %s\n", cfg.Stream.StreamURL())
	fmt.Printf("  Source Stream:   %s\n", cfg.Stream.Source)
	fmt.Printf("  Buffer:          %d bytes (overflow margin %d)\n", cfg.Stream.BufferCapacity, cfg.Stream.OverflowMargin)
	fmt.Printf("  Reconnect Delay: %s\n", cfg.Stream.ReconnectDelay)
	if cfg.Output.Dir != "" {
		fmt.Printf("  Output Dir:      %s\n", cfg.Output.Dir)
	} else {
		fmt.Printf("  Output Dir:      (none - frames not saved)\n")
	}
	if cfg.Output.MaxFrames > 0 {
		fmt.Printf("  Max Frames:      %d\n", cfg.Output.MaxFrames)
	} else {
		fmt.Printf("  Max Frames:      unlimited\n")
	}
	if cfg.MQTT.Broker != "" {
		fmt.Printf("  MQTT Status:     %s -> %s\n", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}
	fmt.Printf("\n")
}

func printWarmup(w *mjpegcapture.WarmupStats) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Warmup Complete\n")
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Received:    %6d frames\n", w.FramesReceived)
	fmt.Printf("│ Duration:           %6.1f seconds\n", w.Duration.Seconds())
	fmt.Printf("│ FPS Mean:           %6.2f fps\n", w.FPSMean)
	fmt.Printf("│ FPS StdDev:         %6.2f fps\n", w.FPSStdDev)
	fmt.Printf("│ FPS Range:          %6.1f - %.1f fps\n", w.FPSMin, w.FPSMax)
	fmt.Printf("│ Jitter Mean:        %6.3f s\n", w.JitterMean)
	fmt.Printf("│ Jitter Max:         %6.3f s\n", w.JitterMax)
	fmt.Printf("│ Stable:             %6v\n", w.IsStable)
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	if !w.IsStable {
		fmt.Printf("\n⚠️  WARNING: Stream is unstable (high FPS variance or jitter)\n")
	}
	fmt.Printf("\n")
}

func printStats(stats mjpegcapture.StreamStats, uptime time.Duration) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Stream Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ State:              %s\n", stats.State)
	fmt.Printf("│ Frames Captured:    %6d frames\n", stats.FrameCount)
	if stats.FramesDropped > 0 {
		fmt.Printf("│ Frames Replaced:    %6d frames (%.1f%%)\n", stats.FramesDropped, stats.DropRate)
	}
	fmt.Printf("│ Real FPS:           %6.2f fps\n", stats.FPSReal)
	fmt.Printf("│ Latency:            %6d ms\n", stats.LatencyMS)
	fmt.Printf("│ Bytes Read:         %6.2f MB\n", float64(stats.BytesRead)/1024/1024)
	fmt.Printf("│ Sessions:           %6d\n", stats.Sessions)
	fmt.Printf("│ Reconnects:         %6d\n", stats.Reconnects)
	if stats.BufferResets > 0 {
		fmt.Printf("│ Buffer Resets:      %6d\n", stats.BufferResets)
	}
	totalErrors := stats.ErrorsConnect + stats.ErrorsHandshake + stats.ErrorsRead + stats.ErrorsOverrun
	if totalErrors > 0 {
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Error Telemetry\n")
		fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
		fmt.Printf("│ Connect Errors:     %6d\n", stats.ErrorsConnect)
		fmt.Printf("│ Handshake Errors:   %6d\n", stats.ErrorsHandshake)
		fmt.Printf("│ Read Errors:        %6d\n", stats.ErrorsRead)
		fmt.Printf("│ Overrun Errors:     %6d\n", stats.ErrorsOverrun)
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

func printFinal(stats mjpegcapture.StreamStats, uptime time.Duration, saving bool, saved, failed int) {
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Printf("  Frames Captured:    %d frames\n", stats.FrameCount)
	if saving {
		fmt.Printf("  Frames Saved:       %d frames\n", saved)
		fmt.Printf("  Save Failures:      %d frames\n", failed)
	}
	fmt.Printf("  Average FPS:        %.2f fps\n", stats.FPSReal)
	fmt.Printf("  Bytes Read:         %.2f MB\n", float64(stats.BytesRead)/1024/1024)
	fmt.Printf("  Reconnection Count: %d\n", stats.Reconnects)
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")
}
