package transcript

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/transport"
)

// recorder is a Sink that keeps every event.
type recorder struct {
	events []Event
}

func (r *recorder) Deliver(e Event) { r.events = append(r.events, e) }

var fixed = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestDispatcher(sink Sink) *Dispatcher {
	return NewDispatcher(sink,
		WithClock(func() time.Time { return fixed }),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
}

func TestDispatcher_FinalTranscript(t *testing.T) {
	t.Parallel()

	var rec recorder
	d := newTestDispatcher(&rec)

	if err := d.Handle([]byte(`{"text":"hello world","is_final":true}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("got %d events, want 1", len(rec.events))
	}
	e := rec.events[0]
	if e.Text != "hello world" || !e.IsFinal {
		t.Errorf("event = %+v, want final \"hello world\"", e)
	}
	if !e.ReceivedAt.Equal(fixed) {
		t.Errorf("ReceivedAt = %v, want %v", e.ReceivedAt, fixed)
	}
	if d.Delivered() != 1 || d.Malformed() != 0 {
		t.Errorf("delivered=%d malformed=%d, want 1/0", d.Delivered(), d.Malformed())
	}
}

func TestDispatcher_MessageWithoutTextIsIgnored(t *testing.T) {
	t.Parallel()

	var rec recorder
	d := newTestDispatcher(&rec)

	for _, msg := range []string{`{"foo":1}`, `{}`, `null`, `{"text":null}`, `{"message_type":"SessionBegins","session_id":"x"}`} {
		if err := d.Handle([]byte(msg)); err != nil {
			t.Errorf("Handle(%s) = %v, want nil", msg, err)
		}
	}
	if len(rec.events) != 0 {
		t.Errorf("got %d events, want 0", len(rec.events))
	}
	if d.Malformed() != 0 {
		t.Errorf("Malformed = %d, want 0", d.Malformed())
	}
	if d.Ignored() != 5 {
		t.Errorf("Ignored = %d, want 5", d.Ignored())
	}
}

func TestDispatcher_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
	}{
		{"not json", `hello`},
		{"truncated", `{"text":"hel`},
		{"array", `[1,2,3]`},
		{"string", `"text"`},
		{"number", `42`},
		{"text wrong type", `{"text":5}`},
		{"is_final wrong type", `{"text":"a","is_final":"yes"}`},
		{"confidence wrong type", `{"text":"a","confidence":"high"}`},
		{"empty", ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var rec recorder
			d := newTestDispatcher(&rec)

			err := d.Handle([]byte(tc.msg))
			if !errors.Is(err, transport.ErrMalformedMessage) {
				t.Fatalf("Handle(%q) = %v, want ErrMalformedMessage", tc.msg, err)
			}
			if len(rec.events) != 0 {
				t.Error("malformed message produced an event")
			}
			if d.Malformed() != 1 {
				t.Errorf("Malformed = %d, want 1", d.Malformed())
			}
		})
	}
}

func TestDispatcher_ValidAndMalformedKeepOrder(t *testing.T) {
	t.Parallel()

	var rec recorder
	d := newTestDispatcher(&rec)

	msgs := []string{
		`{"text":"one"}`,
		`garbage`,
		`{"text":"two","is_final":false}`,
		`{"text":3}`,
		`{"text":"three","message_type":"FinalTranscript","confidence":0.87}`,
		`[]`,
		`{"text":""}`,
	}
	for _, m := range msgs {
		_ = d.Handle([]byte(m))
	}

	var texts []string
	for _, e := range rec.events {
		texts = append(texts, e.Text)
	}
	if got, want := strings.Join(texts, "|"), "one|two|three|"; got != want {
		t.Fatalf("texts = %q, want %q", got, want)
	}
	if d.Malformed() != 3 {
		t.Errorf("Malformed = %d, want 3", d.Malformed())
	}
	if d.Delivered() != 4 {
		t.Errorf("Delivered = %d, want 4", d.Delivered())
	}

	third := rec.events[2]
	if !third.IsFinal {
		t.Error("FinalTranscript message not marked final")
	}
	if third.Confidence != 0.87 {
		t.Errorf("Confidence = %v, want 0.87", third.Confidence)
	}
	if rec.events[1].IsFinal {
		t.Error("partial marked final")
	}
}

func TestDispatcher_ServiceError(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	var rec recorder
	d := NewDispatcher(&rec, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	if err := d.Handle([]byte(`{"error":"Session idle for too long"}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(rec.events) != 0 {
		t.Error("error message produced an event")
	}
	if d.ServiceErrors() != 1 {
		t.Errorf("ServiceErrors = %d, want 1", d.ServiceErrors())
	}
	if !strings.Contains(logs.String(), "Session idle for too long") {
		t.Errorf("service error not logged: %s", logs.String())
	}
}

func TestWriterSink(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		finalsOnly bool
		want       string
	}{
		{"all", false, "Transcription: hel\nTranscription: hello\n"},
		{"finals only", true, "Transcription: hello\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			s := NewWriterSink(&out, tc.finalsOnly)
			s.Deliver(Event{Text: "hel"})
			s.Deliver(Event{Text: ""})
			s.Deliver(Event{Text: "hello", IsFinal: true})
			if out.String() != tc.want {
				t.Errorf("output = %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestSinkFunc(t *testing.T) {
	t.Parallel()

	var got Event
	var s Sink = SinkFunc(func(e Event) { got = e })
	s.Deliver(Event{Text: "x"})
	if got.Text != "x" {
		t.Errorf("SinkFunc did not forward the event")
	}
}
