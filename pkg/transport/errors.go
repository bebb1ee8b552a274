package transport

import (
	"errors"
	"strings"
)

// Error kinds. Every error returned or reported by a [Session] is an
// [*Error] whose Kind is one of these.
var (
	// ErrNotOpen is returned by Send when the session is not Open.
	ErrNotOpen = errors.New("session not open")

	// ErrHandshakeTimeout means the service did not acknowledge the
	// handshake in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrConnectionRefused covers every other dial failure, including an
	// HTTP error response to the upgrade request.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrWriteFailed means a frame could not be written.
	ErrWriteFailed = errors.New("write failed")

	// ErrUnexpectedClose means the connection ended without a normal close
	// handshake.
	ErrUnexpectedClose = errors.New("unexpected close")

	// ErrMalformedMessage marks an inbound message that could not be
	// decoded. Message handlers wrap it to have the message dropped and
	// counted without affecting the session.
	ErrMalformedMessage = errors.New("malformed message")
)

// Error describes a transport failure. errors.Is matches both Kind and the
// underlying cause.
type Error struct {
	// Op is the operation that failed: "dial", "read", "write" or "send".
	Op string

	// Kind is one of the package error kinds.
	Kind error

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("transport: ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns Kind and, when set, the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
