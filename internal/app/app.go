// Package app wires capture, transport and transcript dispatch into a running
// livescribe pipeline.
//
// The App struct owns the full lifecycle: New validates the configuration and
// builds the components, Run opens the device and the service session
// concurrently and pumps audio until the pipeline ends, and Stop tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithMetrics, WithHTTPClient). When WithSource is not provided, New builds
// the source from the capture backend registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/transcript"
	"github.com/MrWong99/livescribe/pkg/transport"
)

// ErrMissingAPIKey is returned by [New] when no service credential is set.
var ErrMissingAPIKey = errors.New("app: service.api_key is required (set it in the config or via " + config.EnvAPIKey + ")")

// dropLogInterval rate-limits the aggregated frame drop warning.
const dropLogInterval = 5 * time.Second

// App owns all component lifetimes and runs the capture → transcribe pipeline.
type App struct {
	cfg      *config.Config
	format   audio.CaptureFormat
	source   audio.Source
	registry *config.Registry
	sink     transcript.Sink
	metrics  *observe.Metrics
	log      *slog.Logger
	client   *http.Client

	queue      *audio.FrameQueue
	session    *transport.Session
	dispatcher *transcript.Dispatcher

	mu      sync.Mutex
	capture audio.Capture
	active  bool

	captured  atomic.Uint64
	discarded atomic.Uint64

	started    atomic.Bool
	sending    atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once
	senderDone chan struct{}
	closeOnce  sync.Once
	done       chan struct{}
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the capture source instead of building it from the
// registry.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithRegistry sets the capture backend registry used when no source is
// injected.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics records pipeline metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithHTTPClient sets the client used for the websocket upgrade.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.client = c }
}

// WithFormat overrides the capture format. It must still equal
// [audio.DefaultFormat]; the option exists so that the startup check can be
// exercised.
func WithFormat(f audio.CaptureFormat) Option {
	return func(a *App) { a.format = f }
}

// New validates cfg and builds the pipeline. Transcript events are delivered
// to sink in arrival order. Nothing is opened until [App.Run].
func New(cfg *config.Config, sink transcript.Sink, opts ...Option) (*App, error) {
	if sink == nil {
		return nil, errors.New("app: transcript sink is required")
	}
	a := &App{
		cfg:        cfg,
		format:     audio.DefaultFormat,
		sink:       sink,
		stop:       make(chan struct{}),
		senderDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.format.Validate(); err != nil {
		return nil, fmt.Errorf("app: capture format %s: %w", a.format, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	if cfg.Service.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if a.source == nil {
		if a.registry == nil {
			return nil, errors.New("app: no capture source or backend registry")
		}
		src, err := a.registry.Create(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.source = src
	}

	a.queue = audio.NewFrameQueue(cfg.Capture.QueueCapacity, audio.WithDropHook(func(audio.AudioFrame) {
		a.metrics.RecordFrameDropped(context.Background(), observe.StageCapture)
	}))

	a.dispatcher = transcript.NewDispatcher(transcript.SinkFunc(func(e transcript.Event) {
		a.metrics.RecordTranscript(context.Background(), e.IsFinal)
		a.sink.Deliver(e)
	}), transcript.WithLogger(a.log))

	sess, err := transport.New(transport.Config{
		Endpoint:         cfg.Service.Endpoint,
		APIKey:           cfg.Service.APIKey,
		SampleRate:       a.format.SampleRate,
		HandshakeTimeout: cfg.Service.HandshakeTimeout,
		WriteTimeout:     cfg.Service.WriteTimeout,
		SendBuffer:       cfg.Service.SendBuffer,
		Reconnect: transport.ReconnectPolicy{
			MaxRetries: cfg.Reconnect.MaxRetries,
			Backoff:    cfg.Reconnect.Backoff,
			MaxBackoff: cfg.Reconnect.MaxBackoff,
		},
		Logger:     a.log,
		Recorder:   a.metrics,
		HTTPClient: a.client,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	sess.OnMessage(a.dispatcher.Handle)
	sess.OnStateChange(a.onStateChange)
	a.session = sess

	return a, nil
}

// Run opens the capture device and the service session concurrently, then
// streams audio until the pipeline ends. It returns nil after [App.Stop],
// ctx cancellation or a graceful close by the service; the session's
// terminal error when the connection failed for good; and the device error
// when capture failed. Run may be called once.
func (a *App) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("app: already running")
	}
	defer close(a.done)
	if a.stopped() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		if a.stopped() || ctx.Err() != nil {
			return nil
		}
		return err
	}

	a.sending.Store(true)
	go a.sendLoop()
	a.log.Info("pipeline running",
		"endpoint", a.cfg.Service.Endpoint,
		"backend", a.cfg.Capture.Backend,
		"format", a.format.String(),
	)

	c := a.currentCapture()
	var err error
	select {
	case <-ctx.Done():
		a.log.Info("stopping pipeline")
	case <-c.Done():
		if err = c.Err(); err != nil {
			a.log.Error("capture failed", "err", err)
		} else {
			a.log.Info("capture ended")
		}
	case <-a.session.Done():
		if err = a.session.Err(); err != nil {
			a.log.Error("session failed", "err", err)
		} else {
			a.log.Info("session closed by service")
		}
	}

	a.shutdown()
	return err
}

// start opens the device and the session concurrently. Either failure
// cancels the other.
func (a *App) start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := a.source.Open(gctx, a.format, a.onFrame)
		if err != nil {
			return fmt.Errorf("app: open capture: %w", err)
		}
		a.mu.Lock()
		a.capture = c
		a.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		if err := a.session.Start(gctx); err != nil {
			return fmt.Errorf("app: start session: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Stop ends a running pipeline and waits for Run to finish tearing it down.
// It is idempotent and may be called before Run.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	if a.started.Load() {
		<-a.done
		return
	}
	a.shutdown()
}

func (a *App) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

// shutdown closes capture, the frame queue and the session in that order,
// then waits for the sender loop. Safe to call more than once.
func (a *App) shutdown() {
	a.closeOnce.Do(func() {
		if c := a.currentCapture(); c != nil {
			if err := c.Close(); err != nil {
				a.log.Warn("capture close error", "err", err)
			}
		}
		a.queue.Close()

		// Give the sender a moment to hand the queued tail to an open session.
		if a.sending.Load() && a.session.Status().State == transport.Open {
			select {
			case <-a.senderDone:
			case <-a.session.Done():
			case <-time.After(a.cfg.Service.WriteTimeout):
			}
		}
		_ = a.session.Close()

		if a.sending.Load() {
			<-a.senderDone
		}
		st := a.session.Status()
		a.log.Info("pipeline stopped",
			"frames_captured", a.captured.Load(),
			"frames_sent", st.FramesSent,
			"frames_dropped", a.queue.Dropped()+st.FramesDropped,
			"messages", st.Messages,
			"transcripts", a.dispatcher.Delivered(),
		)
	})
}

// onFrame is the capture sink. It runs on the device thread and only
// enqueues.
func (a *App) onFrame(f audio.AudioFrame) {
	a.captured.Add(1)
	a.metrics.RecordFrameCaptured(context.Background())
	a.queue.Push(f)
}

// sendLoop moves frames from the queue to the session. While the session is
// not Open it waits for the next Open, so frames back up in the queue and
// the oldest are dropped. Once the session is done, remaining frames are
// discarded until the queue is closed.
func (a *App) sendLoop() {
	defer close(a.senderDone)

	var lastDropped uint64
	lastLog := time.Now()
	for {
		f, err := a.queue.Pop(context.Background())
		if err != nil {
			return
		}
		a.send(f)

		if time.Since(lastLog) >= dropLogInterval {
			if d := a.queue.Dropped(); d > lastDropped {
				a.log.Warn("frames dropped on capture overflow",
					"dropped", d-lastDropped,
					"total", d,
					"queue_capacity", a.queue.Cap(),
				)
				lastDropped = d
			}
			lastLog = time.Now()
		}
	}
}

func (a *App) send(f audio.AudioFrame) {
	for {
		select {
		case <-a.session.Ready():
		case <-a.session.Done():
			a.discarded.Add(1)
			return
		}
		err := a.session.Send(f)
		if err == nil {
			return
		}
		if !errors.Is(err, transport.ErrNotOpen) {
			a.log.Warn("send failed", "seq", f.Seq, "err", err)
			return
		}
		// The connection closed between Ready and Send; wait for the next one.
	}
}

// onStateChange runs on the session's run loop for every transition.
func (a *App) onStateChange(st transport.Status) {
	ctx := observe.WithSessionID(context.Background(), st.SessionID)

	// A connection counts as active from Open until its terminal state,
	// including the Closing handshake.
	a.mu.Lock()
	wasActive := a.active
	switch {
	case st.State == transport.Open:
		a.active = true
	case st.State.Terminal():
		a.active = false
	}
	nowActive := a.active
	a.mu.Unlock()

	switch {
	case nowActive && !wasActive:
		a.metrics.ActiveConnections.Add(ctx, 1)
	case wasActive && !nowActive:
		a.metrics.ActiveConnections.Add(ctx, -1)
	}

	switch st.State {
	case transport.Connecting:
		if st.Attempt > 0 {
			a.metrics.RecordReconnect(ctx, st.Attempt)
		}
	case transport.Open:
		observe.Logger(ctx).Info("session open", "attempt", st.Attempt)
	case transport.Failed:
		observe.Logger(ctx).Warn("session failed", "err", st.Err)
	}
}

func (a *App) currentCapture() audio.Capture {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture
}

// Done is closed when Run has returned.
func (a *App) Done() <-chan struct{} { return a.done }
