package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvAPIKey     = "ASSEMBLYAI_API_KEY"
	EnvEndpoint   = "LIVESCRIBE_ENDPOINT"
	EnvLogLevel   = "LIVESCRIBE_LOG_LEVEL"
	EnvBackend    = "LIVESCRIBE_BACKEND"
	EnvDevice     = "LIVESCRIBE_DEVICE"
	EnvMaxRetries = "LIVESCRIBE_MAX_RETRIES"
	EnvListenAddr = "LIVESCRIBE_LISTEN_ADDR"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped; with no arguments ".env" is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the environment variables listed above.
// lookup is usually [os.LookupEnv]. Values are not validated here; call
// [Validate] afterwards.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvAPIKey, &cfg.Service.APIKey)
	str(EnvEndpoint, &cfg.Service.Endpoint)
	str(EnvDevice, &cfg.Capture.Device)
	str(EnvListenAddr, &cfg.Diagnostics.ListenAddr)

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		cfg.Capture.Backend = Backend(v)
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMaxRetries, err)
		}
		cfg.Reconnect.MaxRetries = n
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// A missing API key is not reported; [ApplyEnv] usually supplies it.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Service
	if cfg.Service.Endpoint == "" {
		errs = append(errs, errors.New("service.endpoint is required"))
	} else if u, err := url.Parse(cfg.Service.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("service.endpoint: %w", err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("service.endpoint scheme %q is invalid; valid values: ws, wss, http, https", u.Scheme))
		}
	}
	if cfg.Service.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("service.handshake_timeout %s must be positive", cfg.Service.HandshakeTimeout))
	}
	if cfg.Service.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("service.write_timeout %s must be positive", cfg.Service.WriteTimeout))
	}
	if cfg.Service.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("service.send_buffer %d must be positive", cfg.Service.SendBuffer))
	}

	// Capture
	switch cfg.Capture.Backend {
	case BackendPortAudio:
	case BackendFile:
		if cfg.Capture.File == "" {
			errs = append(errs, errors.New("capture.file is required when backend is file"))
		}
	case "":
		errs = append(errs, errors.New("capture.backend is required"))
	default:
		// Other names are resolved by the Registry.
	}
	if cfg.Capture.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must be positive", cfg.Capture.FramesPerBuffer))
	}
	if cfg.Capture.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("capture.queue_capacity %d must be positive", cfg.Capture.QueueCapacity))
	}
	if cfg.Capture.StallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.stall_timeout %s must be positive", cfg.Capture.StallTimeout))
	}

	// Reconnect
	if cfg.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d must not be negative", cfg.Reconnect.MaxRetries))
	}
	if cfg.Reconnect.Backoff < 0 {
		errs = append(errs, fmt.Errorf("reconnect.backoff %s must not be negative", cfg.Reconnect.Backoff))
	}
	if cfg.Reconnect.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff %s must not be negative", cfg.Reconnect.MaxBackoff))
	}
	if cfg.Reconnect.Backoff > 0 && cfg.Reconnect.MaxBackoff > 0 && cfg.Reconnect.MaxBackoff < cfg.Reconnect.Backoff {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff %s is less than reconnect.backoff %s", cfg.Reconnect.MaxBackoff, cfg.Reconnect.Backoff))
	}

	return errors.Join(errs...)
}
