package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livescribe/pkg/transport"
)

// Snapshot is a point-in-time view of the pipeline, served as JSON by the
// diagnostics /status endpoint.
type Snapshot struct {
	Session    SessionSnapshot    `json:"session"`
	Capture    CaptureSnapshot    `json:"capture"`
	Queue      QueueSnapshot      `json:"queue"`
	Transcript TranscriptSnapshot `json:"transcript"`
}

// SessionSnapshot mirrors [transport.Status] with the error rendered as text.
type SessionSnapshot struct {
	State         string    `json:"state"`
	Error         string    `json:"error,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Attempt       int       `json:"attempt"`
	Since         time.Time `json:"since"`
	FramesSent    uint64    `json:"frames_sent"`
	BytesSent     uint64    `json:"bytes_sent"`
	FramesDropped uint64    `json:"frames_dropped"`
	Messages      uint64    `json:"messages"`
	Malformed     uint64    `json:"malformed"`
}

// CaptureSnapshot describes the capture side.
type CaptureSnapshot struct {
	Backend  string `json:"backend"`
	Device   string `json:"device,omitempty"`
	Format   string `json:"format"`
	Live     bool   `json:"live"`
	Error    string `json:"error,omitempty"`
	Captured uint64 `json:"frames_captured"`
}

// QueueSnapshot describes the frame queue between capture and sender.
type QueueSnapshot struct {
	Len       int    `json:"len"`
	Cap       int    `json:"cap"`
	Dropped   uint64 `json:"dropped"`
	Discarded uint64 `json:"discarded"`
}

// TranscriptSnapshot holds the dispatcher counters.
type TranscriptSnapshot struct {
	Delivered     uint64 `json:"delivered"`
	Malformed     uint64 `json:"malformed"`
	Ignored       uint64 `json:"ignored"`
	ServiceErrors uint64 `json:"service_errors"`
}

// Status returns a snapshot of the pipeline. Safe for concurrent use.
func (a *App) Status() Snapshot {
	st := a.session.Status()
	snap := Snapshot{
		Session: SessionSnapshot{
			State:         st.State.String(),
			SessionID:     st.SessionID,
			Attempt:       st.Attempt,
			Since:         st.At,
			FramesSent:    st.FramesSent,
			BytesSent:     st.BytesSent,
			FramesDropped: st.FramesDropped,
			Messages:      st.Messages,
			Malformed:     st.Malformed,
		},
		Capture: CaptureSnapshot{
			Backend:  string(a.cfg.Capture.Backend),
			Device:   a.cfg.Capture.Device,
			Format:   a.format.String(),
			Captured: a.captured.Load(),
		},
		Queue: QueueSnapshot{
			Len:       a.queue.Len(),
			Cap:       a.queue.Cap(),
			Dropped:   a.queue.Dropped(),
			Discarded: a.discarded.Load(),
		},
		Transcript: TranscriptSnapshot{
			Delivered:     a.dispatcher.Delivered(),
			Malformed:     a.dispatcher.Malformed(),
			Ignored:       a.dispatcher.Ignored(),
			ServiceErrors: a.dispatcher.ServiceErrors(),
		},
	}
	if st.Err != nil {
		snap.Session.Error = st.Err.Error()
	}
	if err := a.CheckCapture(context.Background()); err == nil {
		snap.Capture.Live = true
	} else if c := a.currentCapture(); c != nil && c.Err() != nil {
		snap.Capture.Error = c.Err().Error()
	}
	return snap
}

// CheckSession is a readiness check that passes while the session is Open.
func (a *App) CheckSession(context.Context) error {
	st := a.session.Status()
	if st.State != transport.Open {
		return fmt.Errorf("session %s", st.State)
	}
	return nil
}

// CheckCapture is a readiness check that passes while the device delivers
// audio.
func (a *App) CheckCapture(context.Context) error {
	c := a.currentCapture()
	if c == nil {
		return errors.New("capture not open")
	}
	select {
	case <-c.Done():
		if err := c.Err(); err != nil {
			return err
		}
		return errors.New("capture stopped")
	default:
		return nil
	}
}
