// Package transport implements the persistent websocket session to the
// remote speech-recognition service.
//
// A [Session] owns at most one live connection at a time. Audio frames are
// written as binary messages through a bounded per-connection write buffer;
// inbound text messages are handed to a single [MessageHandler] strictly in
// arrival order. All state transitions happen on the session's own run
// loop and are reported through [Session.OnStateChange].
//
// Lifecycle:
//
//	Idle → Connecting → Open → Closing → Closed
//	          ↓           ↓
//	        Failed ←──────┘
//
// A Failed session dials again while its [ReconnectPolicy] allows it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// DefaultEndpoint is the realtime transcription endpoint.
const DefaultEndpoint = "wss://api.assemblyai.com/v2/realtime/ws"

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 2 * time.Second
	defaultSendBuffer       = 32
	defaultReadLimit        = 1 << 20

	tracerName = "github.com/MrWong99/livescribe/pkg/transport"
)

// MessageHandler processes one inbound text message. Returning an error that
// wraps [ErrMalformedMessage] marks the message as malformed.
type MessageHandler func(data []byte) error

// StateHandler observes a state transition.
type StateHandler func(Status)

// Recorder receives transport measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordHandshake(ctx context.Context, d time.Duration, err error)
	RecordFrameSent(ctx context.Context, bytes int, d time.Duration)
	RecordFrameDropped(ctx context.Context, stage string)
	RecordMessage(ctx context.Context, malformed bool)
	RecordStateChange(ctx context.Context, state string)
}

type nopRecorder struct{}

func (nopRecorder) RecordHandshake(context.Context, time.Duration, error) {}
func (nopRecorder) RecordFrameSent(context.Context, int, time.Duration) {}
func (nopRecorder) RecordFrameDropped(context.Context, string) {}
func (nopRecorder) RecordMessage(context.Context, bool) {}
func (nopRecorder) RecordStateChange(context.Context, string) {}

// Config configures a [Session].
type Config struct {
	// Endpoint is the websocket URL. Defaults to [DefaultEndpoint].
	Endpoint string

	// APIKey is sent verbatim in the Authorization header of the handshake.
	APIKey string

	// SampleRate is announced in the sample_rate query parameter. Defaults
	// to the rate of [audio.DefaultFormat].
	SampleRate int

	// HandshakeTimeout bounds each dial. Defaults to 5s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write. Defaults to 2s.
	WriteTimeout time.Duration

	// SendBuffer is the write buffer capacity in frames. When it is full the
	// oldest frame is dropped. Defaults to 32.
	SendBuffer int

	// Reconnect controls redialling after a failure.
	Reconnect ReconnectPolicy

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recorder receives measurements. May be nil.
	Recorder Recorder

	// HTTPClient is used for the upgrade request. May be nil.
	HTTPClient *http.Client
}

// Session is a websocket session to the transcription service. Create one
// with [New], register handlers, then call [Session.Start].
//
// Send, Status, Ready, Done, Err and Close are safe for concurrent use.
type Session struct {
	cfg    Config
	url    string
	log    *slog.Logger
	rec    Recorder
	tracer trace.Tracer

	// ctx lives as long as the run loop and parents every connection.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	status    Status
	conn      *connection // non-nil only while Open
	ready     chan struct{}
	onMessage MessageHandler
	onState   []StateHandler

	startOnce sync.Once
	closeOnce sync.Once
	closeReq  chan struct{}
	done      chan struct{}
	err       error // written by the run loop before done is closed

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
	dropped    atomic.Uint64
	messages   atomic.Uint64
	malformed  atomic.Uint64
}

// New creates an Idle session. It fails only on an unusable endpoint.
func New(cfg Config) (*Session, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultFormat.SampleRate
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}

	u, err := buildURL(cfg.Endpoint, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("transport: build URL: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg,
		url:      u,
		log:      log.With("component", "transport"),
		rec:      rec,
		tracer:   otel.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
		status:   Status{State: Idle, At: time.Now()},
		ready:    make(chan struct{}),
		closeReq: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// buildURL adds the sample_rate query parameter to endpoint.
func buildURL(endpoint string, sampleRate int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OnMessage registers the inbound message handler. It is called from the
// reader goroutine, once per message, in arrival order, and must not call
// Close. Register before Start.
func (s *Session) OnMessage(h MessageHandler) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

// OnStateChange registers fn to observe every transition in order. fn runs
// on the session's run loop and must not block or call Close.
func (s *Session) OnStateChange(fn StateHandler) {
	s.mu.Lock()
	s.onState = append(s.onState, fn)
	s.mu.Unlock()
}

// Start begins connecting. It blocks until the first connection is Open, the
// session reaches a terminal state, or ctx is done. ctx bounds the wait
// only; when it ends first the session is closed.
func (s *Session) Start(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		go s.run()
	})
	if !started {
		return errors.New("transport: session already started or closed")
	}

	select {
	case <-s.Ready():
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return &Error{Op: "start", Kind: ErrNotOpen}
	case <-ctx.Done():
		_ = s.Close()
		return ctx.Err()
	}
}

// Send queues f for writing. It never blocks: if the write buffer is full
// the oldest queued frame is dropped. It returns an error wrapping
// [ErrNotOpen] unless the session is Open.
func (s *Session) Send(f audio.AudioFrame) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()

	if c == nil || !c.queue.Push(f) {
		return &Error{Op: "send", Kind: ErrNotOpen}
	}
	return nil
}

// Ready returns a channel that is closed while the current connection is
// Open. A new channel is handed out once the session leaves Open.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Done is closed once the session has reached its final state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the failure that ended the session, or nil while running and
// after a graceful close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()

	st.FramesSent = s.framesSent.Load()
	st.BytesSent = s.bytesSent.Load()
	st.FramesDropped = s.dropped.Load()
	st.Messages = s.messages.Load()
	st.Malformed = s.malformed.Load()
	return st
}

// Close shuts the session down gracefully: queued frames are flushed, the
// connection is closed with status 1000 and Close waits for the run loop to
// finish. It is idempotent and safe to call concurrently with Send and with
// itself. Close always returns nil; see [Session.Err] for failures.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closeReq) })
	s.startOnce.Do(func() {
		// Never started: nothing to tear down.
		s.transition(Closed, nil, nil)
		s.cancel()
		close(s.done)
	})
	<-s.done
	return nil
}

func (s *Session) closeRequested() bool {
	select {
	case <-s.closeReq:
		return true
	default:
		return false
	}
}

// errCloseRequested ends a connection attempt interrupted by Close.
var errCloseRequested = errors.New("close requested")

// run is the session's run loop. It alone performs transitions once started.
func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	attempt := 0
	for {
		c, err := s.connect(attempt)
		if err == nil {
			attempt = 0
			if err = s.serve(c); err == nil {
				return
			}
		}
		if errors.Is(err, errCloseRequested) {
			s.transition(Closed, nil, nil)
			return
		}
		// The failure was already reported; a concurrent Close must not add a
		// second terminal state.
		if s.closeRequested() {
			s.err = err
			return
		}

		attempt++
		if !s.cfg.Reconnect.Allows(attempt) {
			s.err = err
			if s.cfg.Reconnect.MaxRetries > 0 {
				s.log.Error("giving up after max retries", "max_retries", s.cfg.Reconnect.MaxRetries, "err", err)
			}
			return
		}

		delay := s.cfg.Reconnect.Delay(attempt)
		s.log.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", s.cfg.Reconnect.MaxRetries,
			"backoff", delay,
			"err", err,
		)
		select {
		case <-s.closeReq:
			s.err = err
			return
		case <-time.After(delay):
		}
	}
}

// connect dials once. On failure the session is left in Failed.
func (s *Session) connect(attempt int) (*connection, error) {
	id := uuid.NewString()
	s.transition(Connecting, nil, func(st *Status) {
		st.SessionID = id
		st.Attempt = attempt
	})
	log := s.log.With("session_id", id)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.closeReq:
			cancel()
		case <-ctx.Done():
		}
	}()

	ctx, span := s.tracer.Start(ctx, "transport.handshake", trace.WithAttributes(
		attribute.String("session_id", id),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	headers := http.Header{}
	headers.Set("Authorization", s.cfg.APIKey)

	start := time.Now()
	ws, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPHeader: headers,
		HTTPClient: s.cfg.HTTPClient,
	})
	s.rec.RecordHandshake(ctx, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if s.closeRequested() {
			return nil, errCloseRequested
		}
		kind := ErrConnectionRefused
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = ErrHandshakeTimeout
		}
		terr := &Error{Op: "dial", Kind: kind, Err: err}
		log.Warn("handshake failed", "err", terr, "elapsed", time.Since(start))
		s.transition(Failed, terr, nil)
		return nil, terr
	}
	ws.SetReadLimit(defaultReadLimit)
	log.Debug("handshake complete", "elapsed", time.Since(start))

	return s.newConnection(id, ws), nil
}

// serve runs an open connection until it ends or Close is requested. It
// returns nil when the session ended gracefully and is now Closed.
func (s *Session) serve(c *connection) error {
	if s.closeRequested() {
		if err := c.ws.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
			c.log.Debug("close handshake", "err", err)
		}
		c.cancel()
		s.transition(Closed, nil, nil)
		return nil
	}
	s.transition(Open, nil, func(*Status) {
		s.conn = c
		close(s.ready)
	})

	c.wg.Add(2)
	go s.readLoop(c)
	go s.writeLoop(c)

	select {
	case <-c.ended:
		s.leaveOpen()
		c.queue.Close()
		c.cancel()
		_ = c.ws.CloseNow()
		c.wg.Wait()

		if c.err == nil {
			c.log.Info("service closed the connection")
			s.transition(Closed, nil, nil)
			return nil
		}
		c.log.Warn("connection failed", "err", c.err)
		s.transition(Failed, c.err, nil)
		return c.err

	case <-s.closeReq:
		s.leaveOpen()
		s.transition(Closing, nil, nil)

		// Flush what is already queued, then close the handshake.
		c.queue.Close()
		<-c.writerDone
		c.end(nil)
		if err := c.ws.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
			c.log.Debug("close handshake", "err", err)
		}
		c.cancel()
		c.wg.Wait()

		s.transition(Closed, nil, nil)
		return nil
	}
}

// leaveOpen stops Send from accepting frames and re-arms Ready.
func (s *Session) leaveOpen() {
	s.mu.Lock()
	s.conn = nil
	s.ready = make(chan struct{})
	s.mu.Unlock()
}

// transition moves the session to state and notifies observers. mutate, if
// non-nil, runs under the lock to update related fields.
func (s *Session) transition(state State, err error, mutate func(*Status)) {
	s.mu.Lock()
	s.status.State = state
	s.status.Err = err
	s.status.At = time.Now()
	if mutate != nil {
		mutate(&s.status)
	}
	st := s.status
	handlers := append([]StateHandler(nil), s.onState...)
	s.mu.Unlock()

	s.rec.RecordStateChange(s.ctx, state.String())
	if err != nil {
		s.log.Debug("state change", "state", state, "session_id", st.SessionID, "err", err)
	} else {
		s.log.Debug("state change", "state", state, "session_id", st.SessionID)
	}
	for _, fn := range handlers {
		fn(st)
	}
}

func (s *Session) handler() MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onMessage
}
