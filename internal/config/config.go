// Package config loads the YAML configuration of the mjpeg-capture service.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mjpeg-capture configuration
type Config struct {
	InstanceID string        `yaml:"instance_id"`
	Stream     StreamConfig  `yaml:"stream"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	Output     OutputConfig  `yaml:"output"`
	Logging    LoggingConfig `yaml:"logging"`
}

// StreamConfig contains the MJPEG source and demuxer settings.
// Durations are Go duration strings ("2s", "500ms").
type StreamConfig struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	Path                 string        `yaml:"path"`
	Source               string        `yaml:"source"` // label copied into every frame
	BufferCapacity       int           `yaml:"buffer_capacity"`
	OverflowMargin       int           `yaml:"overflow_margin"`
	ReadChunkSize        int           `yaml:"read_chunk_size"` // bytes per socket read, at most overflow_margin
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = retry forever
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	MaxHeaderBytes       int           `yaml:"max_header_bytes"`
	HandoffDepth         int           `yaml:"handoff_depth"` // 1 = latest frame wins
}

// MQTTConfig contains the status publishing settings. An empty broker
// disables publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// OutputConfig controls saving frames to disk. An empty dir disables saving.
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	MaxFrames int    `yaml:"max_frames"` // 0 = unlimited
}

// LoggingConfig contains the log level (debug, info, warn, error).
type LoggingConfig struct {
	Level string `yaml:"level"`
}

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Default returns a configuration with every optional field set.
func Default() *Config {
	return &Config{
		InstanceID: "mjpeg-capture",
		Stream: StreamConfig{
			Port:             80,
			Path:             "/?action=stream",
			Source:           "mjpeg",
			BufferCapacity:   1 << 20,
			OverflowMargin:   100000,
			ReadChunkSize:    64 << 10,
			ReconnectDelay:   2 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			MaxHeaderBytes:   16 << 10,
			HandoffDepth:     1,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and parses a YAML configuration file. Keys missing from the
// file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills derived defaults (MQTT client
// ID and topic).
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	s := cfg.Stream
	if s.Host == "" {
		return fmt.Errorf("stream.host is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("stream.port must be in 1..65535, got %d", s.Port)
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("stream.path must start with '/', got %q", s.Path)
	}
	if s.BufferCapacity <= 0 {
		return fmt.Errorf("stream.buffer_capacity must be > 0")
	}
	if s.OverflowMargin <= 0 || s.OverflowMargin >= s.BufferCapacity {
		return fmt.Errorf("stream.overflow_margin must be in (0, buffer_capacity), got %d", s.OverflowMargin)
	}
	if s.ReadChunkSize <= 0 || s.ReadChunkSize > s.OverflowMargin {
		return fmt.Errorf("stream.read_chunk_size must be in (0, overflow_margin=%d], got %d",
			s.OverflowMargin, s.ReadChunkSize)
	}
	if s.MaxHeaderBytes <= 0 || s.MaxHeaderBytes > s.BufferCapacity {
		return fmt.Errorf("stream.max_header_bytes must be in (0, buffer_capacity=%d], got %d",
			s.BufferCapacity, s.MaxHeaderBytes)
	}
	if s.ReconnectDelay < 0 || s.HandshakeTimeout < 0 {
		return fmt.Errorf("stream durations must not be negative")
	}
	if s.MaxReconnectAttempts < 0 {
		return fmt.Errorf("stream.max_reconnect_attempts must be >= 0")
	}
	if s.HandoffDepth < 1 {
		cfg.Stream.HandoffDepth = 1
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.InstanceID
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = fmt.Sprintf("care/capture/%s/status", cfg.InstanceID)
		}
	}

	if cfg.Output.MaxFrames < 0 {
		return fmt.Errorf("output.max_frames must be >= 0")
	}

	if _, err := cfg.Logging.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level; empty means info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// ParseStreamURL splits an http:// stream URL into host, port and
// path-with-query. The port defaults to 80.
func ParseStreamURL(raw string) (host string, port int, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, "", fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme != "http" {
		return "", 0, "", fmt.Errorf("invalid stream url %q: scheme must be http", raw)
	}
	if u.Hostname() == "" {
		return "", 0, "", fmt.Errorf("invalid stream url %q: missing host", raw)
	}

	port = 80
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return "", 0, "", fmt.Errorf("invalid stream url %q: bad port", raw)
		}
	}

	path = u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return u.Hostname(), port, path, nil
}

// StreamURL formats the stream address for logs and banners.
func (s StreamConfig) StreamURL() string {
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + s.Path
}
