// Command livescribe captures microphone audio and prints live transcripts
// from a realtime speech-recognition service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/livescribe/internal/app"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/pcmfile"
	"github.com/MrWong99/livescribe/pkg/audio/portaudio"
	"github.com/MrWong99/livescribe/pkg/transcript"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "livescribe: %v\n", err)
		os.Exit(1)
	}
}

// options holds the command-line flags. Flags that were set explicitly
// override the config file and the environment.
type options struct {
	configPath string
	envFile    string
	endpoint   string
	device     string
	file       string
	loop       bool
	logLevel   string
	listenAddr string
	maxRetries int
	finalsOnly bool
}

func newRootCmd() *cobra.Command {
	var o options

	cmd := &cobra.Command{
		Use:   "livescribe",
		Short: "Stream microphone audio to a realtime transcription service",
		Long: "livescribe captures 16 kHz mono PCM from an input device, streams it over a\n" +
			"websocket to a realtime speech-recognition service and prints transcripts.",
		Example: `  ASSEMBLYAI_API_KEY=... livescribe
  livescribe --device "USB Microphone" --finals-only
  livescribe --file recording.wav --listen :9090
  livescribe devices`,
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd)
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	o.bindFlags(cmd.Flags())

	cmd.AddCommand(newDevicesCmd())
	return cmd
}

func (o *options) bindFlags(f *pflag.FlagSet) {
	f.StringVarP(&o.configPath, "config", "c", "", "path to the YAML configuration file (defaults are used when empty)")
	f.StringVar(&o.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	f.StringVar(&o.endpoint, "endpoint", "", "websocket endpoint of the transcription service")
	f.StringVarP(&o.device, "device", "d", "", "input device name (substring match; empty selects the default)")
	f.StringVar(&o.file, "file", "", "replay a 16 kHz mono WAV or raw PCM file instead of capturing")
	f.BoolVar(&o.loop, "loop", false, "restart --file replay at end of file")
	f.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&o.listenAddr, "listen", "", "diagnostics HTTP address for /healthz, /readyz, /status and /metrics")
	f.IntVar(&o.maxRetries, "max-retries", 0, "reconnection attempts after a connection failure (0 disables)")
	f.BoolVar(&o.finalsOnly, "finals-only", false, "print final transcripts only")
}

// loadConfig builds the effective configuration: defaults, then the config
// file, then the environment, then explicitly set flags.
func (o *options) loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found", o.configPath)
			}
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if flags.Changed("endpoint") {
		cfg.Service.Endpoint = o.endpoint
	}
	if flags.Changed("device") {
		cfg.Capture.Backend = config.BackendPortAudio
		cfg.Capture.Device = o.device
	}
	if flags.Changed("file") {
		cfg.Capture.Backend = config.BackendFile
		cfg.Capture.File = o.file
	}
	if flags.Changed("loop") {
		cfg.Capture.Loop = o.loop
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = config.LogLevel(o.logLevel)
	}
	if flags.Changed("listen") {
		cfg.Diagnostics.ListenAddr = o.listenAddr
	}
	if flags.Changed("max-retries") {
		cfg.Reconnect.MaxRetries = o.maxRetries
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) run(cmd *cobra.Command) error {
	cfg, err := o.loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	var level slog.LevelVar
	level.Set(cfg.LogLevel.Level())
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), &level))

	ctx := cmd.Context()
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	if o.configPath != "" {
		w, err := config.NewWatcher(o.configPath, config.WithLevelVar(&level))
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	sink := transcript.NewWriterSink(cmd.OutOrStdout(), o.finalsOnly)
	a, err := app.New(cfg, sink,
		app.WithRegistry(newRegistry()),
		app.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	if addr := cfg.Diagnostics.ListenAddr; addr != "" {
		srv, err := startDiagnostics(addr, a, metrics)
		if err != nil {
			return err
		}
		defer srv.shutdown()
	}

	slog.Info("livescribe starting",
		"version", version,
		"config", o.configPath,
		"endpoint", cfg.Service.Endpoint,
		"backend", cfg.Capture.Backend,
		"log_level", cfg.LogLevel,
		"reconnect_max_retries", cfg.Reconnect.MaxRetries,
	)
	slog.Info("listening, press Ctrl+C to stop")

	if err := a.Run(ctx); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// newRegistry wires the built-in capture backends.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.Register(config.BackendPortAudio, func(c config.CaptureConfig) (audio.Source, error) {
		return portaudio.New(
			portaudio.WithDevice(c.Device),
			portaudio.WithFramesPerBuffer(c.FramesPerBuffer),
			portaudio.WithStallTimeout(c.StallTimeout),
		), nil
	})
	reg.Register(config.BackendFile, func(c config.CaptureConfig) (audio.Source, error) {
		if c.File == "" {
			return nil, errors.New("capture.file is empty")
		}
		return pcmfile.New(c.File,
			pcmfile.WithFramesPerBuffer(c.FramesPerBuffer),
			pcmfile.WithLoop(c.Loop),
		), nil
	})
	return reg
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
