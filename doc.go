// Package mjpegcapture provides MJPEG-over-HTTP frame acquisition from IP
// cameras and mjpg-streamer style servers.
//
// The stream is demuxed directly on the raw TCP socket: the HTTP response
// header is skipped, then complete JPEGs are cut out of the body by scanning
// for the SOI (FF D8) and EOI (FF D9) markers. Multipart boundaries are not
// interpreted. JPEG decoding is left to the consumer.
//
// # Quick Start
//
//	stream, err := mjpegcapture.NewMJPEGStream(mjpegcapture.MJPEGConfig{
//	    Host:         "raspberrypi.local",
//	    Port:         8080,
//	    Path:         "/?action=stream",
//	    SourceStream: "kitchen",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Stop()
//
//	ctx := context.Background()
//	if err := stream.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Optional: measure the real frame rate first
//	stats, _ := stream.Warmup(ctx, 5*time.Second)
//	log.Printf("Stream stable: %v, FPS: %.2f", stats.IsStable, stats.FPSMean)
//
//	for {
//	    frame, err := stream.Next(ctx)
//	    if err != nil {
//	        break // stopped, or gave up reconnecting
//	    }
//	    processJPEG(frame.Data)
//	}
//
// # Features
//
//   - Fixed-capacity receive buffer (default 1 MiB) with overflow reset on garbage
//   - Automatic reconnection with a fixed delay (default 2s), unlimited by default
//   - Latest-frame-wins handoff: a slow consumer only ever sees the newest frame
//   - Optional bounded queue (HandoffDepth > 1) that drops the oldest frame
//   - Stop unblocks a read in progress by closing the socket
//   - Telemetry: frame count, drops, FPS, latency, reconnects, errors by category
//
// # Connection State
//
// State() moves Disconnected → Connecting → Streaming for each session and
// back to Disconnected when it ends. MJPEGConfig.OnStateChange observes every
// transition on the network goroutine.
//
// # Limitations
//
// If the worker does not exit within MJPEGConfig.StopTimeout, Stop returns
// an error and the goroutine is abandoned; it exits on its own once the
// socket close is observed.
package mjpegcapture
