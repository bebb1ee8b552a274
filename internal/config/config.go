// Package config provides the configuration schema, loader, live watcher and
// capture backend registry for livescribe.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Backend names a registered audio capture backend.
type Backend string

const (
	// BackendPortAudio captures from a live input device.
	BackendPortAudio Backend = "portaudio"

	// BackendFile replays a WAV or raw PCM file in real time.
	BackendFile Backend = "file"
)

// Default values applied by [Default] and kept for keys missing from a file.
const (
	DefaultEndpoint         = "wss://api.assemblyai.com/v2/realtime/ws"
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 2 * time.Second
	DefaultSendBuffer       = 32
	DefaultFramesPerBuffer  = 160
	DefaultQueueCapacity    = 30
	DefaultStallTimeout     = 2 * time.Second
	DefaultBackoff          = time.Second
	DefaultMaxBackoff       = 30 * time.Second
)

// Config is the root configuration structure for livescribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. It is the only value the [Watcher]
	// applies without a restart.
	LogLevel LogLevel `yaml:"log_level"`

	Service     ServiceConfig     `yaml:"service"`
	Capture     CaptureConfig     `yaml:"capture"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// ServiceConfig describes the remote transcription endpoint.
type ServiceConfig struct {
	// Endpoint is the WebSocket URL. The sample rate is appended as a query
	// parameter when connecting.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent verbatim in the Authorization header. Usually supplied
	// through ASSEMBLYAI_API_KEY rather than the file.
	APIKey string `yaml:"api_key"`

	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// WriteTimeout bounds each outbound audio message.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// SendBuffer is the per-connection outbound frame buffer.
	SendBuffer int `yaml:"send_buffer"`
}

// CaptureConfig selects and tunes the audio capture backend.
type CaptureConfig struct {
	// Backend selects the registered capture backend.
	Backend Backend `yaml:"backend"`

	// Device is the input device name for the portaudio backend. Empty
	// selects the system default.
	Device string `yaml:"device"`

	// File is the WAV or raw PCM path for the file backend.
	File string `yaml:"file"`

	// Loop restarts file replay at EOF instead of ending the capture.
	Loop bool `yaml:"loop"`

	// FramesPerBuffer is the number of samples per captured frame.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// QueueCapacity bounds the frame queue between capture and sender.
	QueueCapacity int `yaml:"queue_capacity"`

	// StallTimeout is how long the device may go without delivering a frame
	// before the capture is considered interrupted.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// ReconnectConfig controls automatic reconnection after a failed session.
type ReconnectConfig struct {
	// MaxRetries is the number of reconnection attempts. 0 disables
	// reconnection.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the delay before the first attempt; it doubles per attempt.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// DiagnosticsConfig configures the optional diagnostics HTTP server.
type DiagnosticsConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz, /status and
	// /metrics (e.g. ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Service: ServiceConfig{
			Endpoint:         DefaultEndpoint,
			HandshakeTimeout: DefaultHandshakeTimeout,
			WriteTimeout:     DefaultWriteTimeout,
			SendBuffer:       DefaultSendBuffer,
		},
		Capture: CaptureConfig{
			Backend:         BackendPortAudio,
			FramesPerBuffer: DefaultFramesPerBuffer,
			QueueCapacity:   DefaultQueueCapacity,
			StallTimeout:    DefaultStallTimeout,
		},
		Reconnect: ReconnectConfig{
			Backoff:    DefaultBackoff,
			MaxBackoff: DefaultMaxBackoff,
		},
	}
}
