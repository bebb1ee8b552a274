package transport

import "time"

// State is the lifecycle state of a [Session].
type State int

const (
	// Idle is the state of a session that has not been started.
	Idle State = iota

	// Connecting means a handshake is in progress.
	Connecting

	// Open means the handshake completed and frames are accepted.
	Open

	// Closing means a local Close is flushing and closing the connection.
	Closing

	// Closed means the connection ended gracefully, either by Close or by
	// the remote side.
	Closed

	// Failed means the connection attempt or the open connection failed.
	// Failed is terminal unless the reconnect policy allows another attempt.
	Failed
)

var stateNames = [...]string{
	Idle:       "idle",
	Connecting: "connecting",
	Open:       "open",
	Closing:    "closing",
	Closed:     "closed",
	Failed:     "failed",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends a connection. A terminal state is final
// for the session once the reconnect policy has nothing left to try.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	// State is the current lifecycle state.
	State State

	// Err is the failure reason when State is Failed.
	Err error

	// Attempt is the reconnect attempt in progress, 0 for the first
	// connection.
	Attempt int

	// SessionID identifies the current connection. It changes on every
	// connection attempt and is empty before the first one.
	SessionID string

	// At is when the session entered State.
	At time.Time

	// FramesSent and BytesSent count audio written over all connections.
	FramesSent uint64
	BytesSent  uint64

	// FramesDropped counts frames evicted from the write buffer.
	FramesDropped uint64

	// Messages and Malformed count inbound messages over all connections.
	Messages  uint64
	Malformed uint64
}
