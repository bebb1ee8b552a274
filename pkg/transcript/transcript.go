// Package transcript decodes the recognition service's JSON messages and
// dispatches them as [Event] values to a consumer [Sink].
//
// A [Dispatcher] is registered as the transport session's message handler,
// so it sees messages one at a time in arrival order and forwards events in
// that same order.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livescribe/pkg/transport"
)

// messageTypeFinal is the service's discriminator for a final transcript.
const messageTypeFinal = "FinalTranscript"

// Event is one transcription result.
type Event struct {
	// Text is the recognised text. It may be empty.
	Text string

	// IsFinal is true when the service will not revise this text any more.
	IsFinal bool

	// Confidence is the service's confidence in [0, 1], or 0 when absent.
	Confidence float64

	// ReceivedAt is when the message was received.
	ReceivedAt time.Time
}

// Sink consumes transcript events. Deliver is called from the transport's
// reader goroutine and should return quickly.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Deliver calls f(e).
func (f SinkFunc) Deliver(e Event) { f(e) }

// message is the wire shape of an inbound message. Pointers distinguish
// absent fields from zero values.
type message struct {
	Text        *string  `json:"text"`
	IsFinal     *bool    `json:"is_final"`
	MessageType *string  `json:"message_type"`
	Confidence  *float64 `json:"confidence"`
	Error       *string  `json:"error"`
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithClock overrides the time source used for ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher turns raw messages into events.
type Dispatcher struct {
	sink Sink
	log  *slog.Logger
	now  func() time.Time

	delivered     atomic.Uint64
	malformed     atomic.Uint64
	ignored       atomic.Uint64
	serviceErrors atomic.Uint64
}

// NewDispatcher creates a dispatcher that forwards events to sink.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink: sink,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle decodes one message and delivers at most one event. It satisfies
// [transport.MessageHandler].
//
// A message that is not a JSON object, or whose known fields have the wrong
// type, yields an error wrapping [transport.ErrMalformedMessage]. An object
// without "text" is ignored. An object carrying "error" is logged as a
// service error and produces no event.
func (d *Dispatcher) Handle(data []byte) error {
	at := d.now()

	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		d.malformed.Add(1)
		return fmt.Errorf("transcript: decode: %w: %w", transport.ErrMalformedMessage, err)
	}

	if m.Error != nil {
		d.serviceErrors.Add(1)
		d.log.Error("transcription service reported an error", "service_error", *m.Error)
		return nil
	}
	if m.Text == nil {
		d.ignored.Add(1)
		return nil
	}

	e := Event{
		Text:       *m.Text,
		IsFinal:    m.IsFinal != nil && *m.IsFinal,
		ReceivedAt: at,
	}
	if m.MessageType != nil && *m.MessageType == messageTypeFinal {
		e.IsFinal = true
	}
	if m.Confidence != nil {
		e.Confidence = *m.Confidence
	}

	d.sink.Deliver(e)
	d.delivered.Add(1)
	return nil
}

// Delivered returns the number of events handed to the sink.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Malformed returns the number of messages that failed to decode.
func (d *Dispatcher) Malformed() uint64 { return d.malformed.Load() }

// Ignored returns the number of well-formed messages without text.
func (d *Dispatcher) Ignored() uint64 { return d.ignored.Load() }

// ServiceErrors returns the number of error messages from the service.
func (d *Dispatcher) ServiceErrors() uint64 { return d.serviceErrors.Load() }
