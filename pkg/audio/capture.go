// Package audio defines the capture side of the livescribe pipeline: the
// fixed [CaptureFormat], the [AudioFrame] unit, the [Source] abstraction over
// input devices and the bounded [FrameQueue] that decouples the device
// callback from the network sender.
//
// Backends live in sub-packages (audio/portaudio for microphones,
// audio/pcmfile for file replay, audio/mock for tests). They all build their
// [Capture] handles on [CaptureHandle] so that sequencing, the
// no-delivery-after-close guarantee and stall detection behave identically.
package audio

import (
	"context"
	"errors"
)

// Device errors. They are fatal for the pipeline; there is no automatic
// device failover.
var (
	// ErrDeviceNotFound is returned by [Source.Open] when no matching input
	// device exists.
	ErrDeviceNotFound = errors.New("audio: input device not found")

	// ErrUnsupportedFormat is returned by [Source.Open] when the device cannot
	// capture the requested [CaptureFormat].
	ErrUnsupportedFormat = errors.New("audio: unsupported capture format")

	// ErrCaptureInterrupted is reported through [Capture.Err] when the device
	// is lost mid-stream.
	ErrCaptureInterrupted = errors.New("audio: capture interrupted")
)

// CaptureError annotates a device error with the device it concerns.
type CaptureError struct {
	// Device is the device name, or empty for the system default.
	Device string

	// Err is one of the device sentinels, possibly wrapping a backend error.
	Err error
}

// Error implements error.
func (e *CaptureError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	return "audio: device " + name + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error { return e.Err }

// FrameSink receives captured frames. It is called on the backend's capture
// thread and must return quickly: no network I/O, no blocking. In the
// pipeline it only pushes onto a [FrameQueue].
type FrameSink func(AudioFrame)

// Capture is an open capture stream. It owns the device until Close returns
// or the stream fails.
type Capture interface {
	// Done is closed when the stream has stopped, either by Close or by a
	// device failure.
	Done() <-chan struct{}

	// Err returns nil while running and after a clean Close, or the device
	// error that stopped the stream.
	Err() error

	// Close stops capture and releases the device. No frame is delivered to
	// the sink after Close returns. Safe to call more than once.
	Close() error
}

// Source opens capture streams on an input device.
type Source interface {
	// Open acquires the device, configures it for format and starts
	// delivering frames to sink. ctx bounds the open call only.
	Open(ctx context.Context, format CaptureFormat, sink FrameSink) (Capture, error)
}
