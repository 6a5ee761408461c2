package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mjpegcapture "github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/telemetry"
)

// Version information
const version = "v0.1.0"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	streamURL := flag.String("url", "", "MJPEG stream URL, e.g. http://raspberrypi.local:8080/?action=stream")
	host := flag.String("host", "", "Camera host (alternative to --url)")
	port := flag.Int("port", 0, "Camera port (alternative to --url)")
	path := flag.String("path", "", "Request path (alternative to --url)")
	sourceStream := flag.String("source", "", "Source stream identifier")
	outputDir := flag.String("output", "", "Directory to save captured frames as JPEG (optional)")
	maxFrames := flag.Int("max-frames", -1, "Maximum frames to capture (0 = unlimited)")
	statsInterval := flag.Duration("stats-interval", 10*time.Second, "Interval between stats reports")
	warmupDuration := flag.Duration("warmup", 0, "Measure FPS stability for this long before capturing (0 = skip)")
	decode := flag.Bool("decode", false, "Decode JPEG headers and print frame dimensions")
	mqttBroker := flag.String("mqtt-broker", "", "MQTT broker for status events, e.g. localhost:1883 (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("mjpeg-capture %s\n", version)
		os.Exit(0)
	}

	// Configuration: file (or defaults), then flags
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if *streamURL != "" {
		h, p, pth, err := config.ParseStreamURL(*streamURL)
		if err != nil {
			log.Fatalf("%v", err)
		}
		cfg.Stream.Host, cfg.Stream.Port, cfg.Stream.Path = h, p, pth
	}
	if *host != "" {
		cfg.Stream.Host = *host
	}
	if *port != 0 {
		cfg.Stream.Port = *port
	}
	if *path != "" {
		cfg.Stream.Path = *path
	}
	if *sourceStream != "" {
		cfg.Stream.Source = *sourceStream
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *maxFrames >= 0 {
		cfg.Output.MaxFrames = *maxFrames
	}
	if *mqttBroker != "" {
		cfg.MQTT.Broker = *mqttBroker
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	if cfg.Stream.Host == "" {
		fmt.Fprintf(os.Stderr, "Error: --url, --host or a config file with stream.host is required\n\n")
		fmt.Fprintf(os.Stderr, "Usage example:\n")
		fmt.Fprintf(os.Stderr, "  mjpeg-capture --url http://raspberrypi.local:8080/?action=stream\n")
		fmt.Fprintf(os.Stderr, "  mjpeg-capture --host 192.168.1.20 --port 8080 --output ./frames --max-frames 50\n")
		fmt.Fprintf(os.Stderr, "  mjpeg-capture --config capture.yaml --mqtt-broker localhost:1883\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set up logging
	logLevel, _ := cfg.Logging.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Create output directory if specified
	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		slog.Info("Frame saving enabled", "directory", cfg.Output.Dir)
	}

	printBanner(cfg)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Printf("\n\nReceived interrupt signal, shutting down...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Status publishing (optional)
	var reporter *telemetry.Reporter
	var emitter *telemetry.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		emitter = telemetry.NewMQTTEmitter(telemetry.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		})
		if err := emitter.Connect(ctx); err != nil {
			slog.Warn("MQTT broker unavailable, status events will be dropped until it connects",
				"broker", cfg.MQTT.Broker,
				"error", err,
			)
		}
		reporter = telemetry.NewReporter(emitter, 64)
		go reporter.Run(ctx)
	}

	// Create MJPEG stream
	streamCfg := streamConfig(cfg)
	streamCfg.OnStateChange = func(old, new mjpegcapture.ConnectionState) {
		slog.Info("Connection state changed", "from", old.String(), "to", new.String())
		if reporter != nil {
			reporter.Report(telemetry.StatusEvent{
				Kind:         telemetry.KindState,
				InstanceID:   cfg.InstanceID,
				SourceStream: cfg.Stream.Source,
				Timestamp:    time.Now(),
				State:        new.String(),
				PrevState:    old.String(),
			})
		}
	}

	stream, err := mjpegcapture.NewMJPEGStream(streamCfg)
	if err != nil {
		log.Fatalf("Failed to create MJPEG stream: %v", err)
	}

	// Start stream (non-blocking, returns immediately)
	slog.Info("Starting MJPEG stream...")
	if err := stream.Start(ctx); err != nil {
		log.Fatalf("Failed to start stream: %v", err)
	}

	// Warmup: measure FPS stability before processing frames
	if *warmupDuration > 0 {
		fmt.Printf("\nRunning warmup (%s) to measure stream stability...\n", *warmupDuration)
		warmupStats, err := stream.Warmup(ctx, *warmupDuration)
		if err != nil {
			slog.Error("Warmup failed", "error", err)
		} else {
			printWarmup(warmupStats)
		}
	}

	fmt.Printf("Starting frame capture...\n")
	fmt.Printf("Press Ctrl+C to stop gracefully\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n\n")

	startTime := time.Now()
	var framesSaved, saveFailures int

	// Launch stats reporter goroutine
	if *statsInterval > 0 {
		statsTicker := time.NewTicker(*statsInterval)
		defer statsTicker.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-statsTicker.C:
					stats := stream.Stats()
					printStats(stats, time.Since(startTime))
					if reporter != nil {
						reporter.Report(statsEvent(cfg, stats))
					}
				}
			}
		}()
	}

	// Main frame processing loop
	frameCount := 0
	for {
		frame, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, mjpegcapture.ErrClosed) {
				slog.Warn("Stream closed, reconnection gave up")
			}
			break
		}

		frameCount++

		dims := ""
		if *decode {
			w, h, err := decodeDimensions(frame.Data)
			if err != nil {
				slog.Warn("Failed to decode JPEG header", "seq", frame.Seq, "error", err)
			} else {
				dims = fmt.Sprintf(" | %dx%d", w, h)
			}
		}

		// Log frame arrival (compact format)
		fmt.Printf("[%s] Frame #%-6d | Seq: %-8d | Size: %6.1f KB%s | Timestamp: %s\n",
			time.Now().Format("15:04:05"),
			frameCount,
			frame.Seq,
			float64(len(frame.Data))/1024,
			dims,
			frame.Timestamp.Format("15:04:05.000"),
		)

		// Save frame if output directory specified
		if cfg.Output.Dir != "" {
			if _, err := saveFrame(cfg.Output.Dir, frame); err != nil {
				slog.Error("Failed to save frame", "error", err, "seq", frame.Seq)
				saveFailures++
			} else {
				framesSaved++
			}
		}

		// Stop if max frames reached
		if cfg.Output.MaxFrames > 0 && frameCount >= cfg.Output.MaxFrames {
			fmt.Printf("\nReached maximum frames (%d), stopping...\n", cfg.Output.MaxFrames)
			break
		}
	}

	slog.Info("Stopping stream...")
	if err := stream.Stop(); err != nil {
		slog.Error("Error stopping stream", "error", err)
	}

	finalStats := stream.Stats()
	if reporter != nil {
		// Best effort: publish the final snapshot before disconnecting.
		if payload, err := telemetry.Encode(statsEvent(cfg, finalStats)); err == nil {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := emitter.Publish(pubCtx, payload); err != nil {
				slog.Debug("Final status not published", "error", err)
			}
			pubCancel()
		}
	}
	cancel()
	if emitter != nil {
		emitter.Disconnect()
	}

	printFinal(finalStats, time.Since(startTime), cfg.Output.Dir != "", framesSaved, saveFailures)
	slog.Info("Capture completed")
}

// streamConfig maps the file/flag configuration onto the library config.
func streamConfig(cfg *config.Config) mjpegcapture.MJPEGConfig {
	s := cfg.Stream
	return mjpegcapture.MJPEGConfig{
		Host:                 s.Host,
		Port:                 s.Port,
		Path:                 s.Path,
		SourceStream:         s.Source,
		BufferCapacity:       s.BufferCapacity,
		OverflowMargin:       s.OverflowMargin,
		ReadChunkSize:        s.ReadChunkSize,
		ReconnectDelay:       s.ReconnectDelay,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
		HandshakeTimeout:     s.HandshakeTimeout,
		MaxHeaderBytes:       s.MaxHeaderBytes,
		HandoffDepth:         s.HandoffDepth,
	}
}

// statsEvent builds the periodic status payload.
func statsEvent(cfg *config.Config, stats mjpegcapture.StreamStats) telemetry.StatusEvent {
	return telemetry.StatusEvent{
		Kind:          telemetry.KindStats,
		InstanceID:    cfg.InstanceID,
		SourceStream:  stats.SourceStream,
		Timestamp:     time.Now(),
		State:         stats.State.String(),
		FrameCount:    stats.FrameCount,
		FramesDropped: stats.FramesDropped,
		FPS:           stats.FPSReal,
		LatencyMS:     stats.LatencyMS,
		BytesRead:     stats.BytesRead,
		Reconnects:    stats.Reconnects,
		BufferResets:  stats.BufferResets,
		Errors: map[string]uint64{
			"connect":   stats.ErrorsConnect,
			"handshake": stats.ErrorsHandshake,
			"read":      stats.ErrorsRead,
			"overrun":   stats.ErrorsOverrun,
		},
	}
}
