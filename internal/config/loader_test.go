package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
)

const fullYAML = `
log_level: debug
service:
  endpoint: ws://localhost:8080/v2/realtime/ws
  api_key: secret
  handshake_timeout: 3s
  write_timeout: 500ms
  send_buffer: 8
capture:
  backend: file
  file: testdata/hello.wav
  loop: true
  frames_per_buffer: 320
  queue_capacity: 10
  stall_timeout: 1s
reconnect:
  max_retries: 3
  backoff: 250ms
  max_backoff: 4s
diagnostics:
  listen_addr: ":9090"
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := config.Config{
		LogLevel: config.LogDebug,
		Service: config.ServiceConfig{
			Endpoint:         "ws://localhost:8080/v2/realtime/ws",
			APIKey:           "secret",
			HandshakeTimeout: 3 * time.Second,
			WriteTimeout:     500 * time.Millisecond,
			SendBuffer:       8,
		},
		Capture: config.CaptureConfig{
			Backend:         config.BackendFile,
			File:            "testdata/hello.wav",
			Loop:            true,
			FramesPerBuffer: 320,
			QueueCapacity:   10,
			StallTimeout:    time.Second,
		},
		Reconnect: config.ReconnectConfig{
			MaxRetries: 3,
			Backoff:    250 * time.Millisecond,
			MaxBackoff: 4 * time.Second,
		},
		Diagnostics: config.DiagnosticsConfig{ListenAddr: ":9090"},
	}
	if *cfg != want {
		t.Errorf("config mismatch:\n got  %+v\n want %+v", *cfg, want)
	}
}

func TestLoadFromReader_DefaultsForMissingKeys(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"empty document", ""},
		{"comment only", "# nothing here\n"},
		{"partial", "capture:\n  device: USB Mic\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			def := config.Default()
			if cfg.Service != def.Service {
				t.Errorf("service = %+v, want defaults %+v", cfg.Service, def.Service)
			}
			if cfg.Reconnect != def.Reconnect {
				t.Errorf("reconnect = %+v, want defaults %+v", cfg.Reconnect, def.Reconnect)
			}
			if cfg.Reconnect.MaxRetries != 0 {
				t.Errorf("reconnect should be disabled by default, got max_retries=%d", cfg.Reconnect.MaxRetries)
			}
			if cfg.Capture.QueueCapacity != config.DefaultQueueCapacity {
				t.Errorf("queue_capacity = %d, want %d", cfg.Capture.QueueCapacity, config.DefaultQueueCapacity)
			}
			if cfg.Capture.Backend != config.BackendPortAudio {
				t.Errorf("backend = %q, want portaudio", cfg.Capture.Backend)
			}
		})
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("service:\n  api_secret: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "api_secret") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log level",
			yaml: "log_level: loud\n",
			want: []string{`log_level "loud" is invalid`},
		},
		{
			name: "bad endpoint scheme",
			yaml: "service:\n  endpoint: ftp://example.com\n",
			want: []string{`scheme "ftp" is invalid`},
		},
		{
			name: "empty endpoint",
			yaml: "service:\n  endpoint: \"\"\n",
			want: []string{"service.endpoint is required"},
		},
		{
			name: "non-positive timeouts",
			yaml: "service:\n  handshake_timeout: 0s\n  write_timeout: -1s\n",
			want: []string{"service.handshake_timeout", "service.write_timeout"},
		},
		{
			name: "file backend without file",
			yaml: "capture:\n  backend: file\n",
			want: []string{"capture.file is required"},
		},
		{
			name: "zero queue and frames",
			yaml: "capture:\n  queue_capacity: 0\n  frames_per_buffer: 0\n",
			want: []string{"capture.queue_capacity", "capture.frames_per_buffer"},
		},
		{
			name: "negative retries and inverted backoff",
			yaml: "reconnect:\n  max_retries: -1\n  backoff: 10s\n  max_backoff: 1s\n",
			want: []string{"reconnect.max_retries", "less than reconnect.backoff"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should contain %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_CustomBackendAllowed(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("capture:\n  backend: pulse\n")); err != nil {
		t.Errorf("custom backend should pass validation, got: %v", err)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want os.ErrNotExist", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("log_level: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("Load(bad) error = %v, want error naming the file", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvAPIKey:     "env-key",
		config.EnvEndpoint:   "wss://example.com/ws",
		config.EnvLogLevel:   "warn",
		config.EnvBackend:    "file",
		config.EnvDevice:     "Blue Yeti",
		config.EnvMaxRetries: "5",
		config.EnvListenAddr: ":7070",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := config.Default()
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Service.APIKey != "env-key" || cfg.Service.Endpoint != "wss://example.com/ws" {
		t.Errorf("service = %+v", cfg.Service)
	}
	if cfg.LogLevel != config.LogWarn {
		t.Errorf("log_level = %q, want warn", cfg.LogLevel)
	}
	if cfg.Capture.Backend != config.BackendFile || cfg.Capture.Device != "Blue Yeti" {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Reconnect.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Reconnect.MaxRetries)
	}
	if cfg.Diagnostics.ListenAddr != ":7070" {
		t.Errorf("listen_addr = %q, want :7070", cfg.Diagnostics.ListenAddr)
	}
}

func TestApplyEnv_EmptyValuesKeepConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Service.APIKey = "from-file"
	lookup := func(k string) (string, bool) { return "", true }
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Service.APIKey != "from-file" {
		t.Errorf("api_key = %q, want from-file", cfg.Service.APIKey)
	}
}

func TestApplyEnv_BadRetries(t *testing.T) {
	t.Parallel()
	lookup := func(k string) (string, bool) {
		if k == config.EnvMaxRetries {
			return "many", true
		}
		return "", false
	}
	err := config.ApplyEnv(config.Default(), lookup)
	if err == nil || !strings.Contains(err.Error(), config.EnvMaxRetries) {
		t.Errorf("ApplyEnv error = %v, want one naming %s", err, config.EnvMaxRetries)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "LIVESCRIBE_TEST_DOTENV_KEY"
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(key, "")
	os.Unsetenv(key)

	if err := config.LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s = %q, want from-dotenv", key, got)
	}

	// Existing variables win over the file.
	t.Setenv(key, "from-env")
	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-env" {
		t.Errorf("%s = %q, want from-env", key, got)
	}
}
