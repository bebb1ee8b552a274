// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock records every Open call and lets the test drive the capture
// stream by hand: Emit pushes PCM through the sink exactly as a device
// callback would, and Interrupt simulates the device disappearing.
//
// Typical usage:
//
//	src := &mock.Source{}
//	c, _ := src.Open(ctx, audio.DefaultFormat, sink)
//	src.Emit(make([]byte, 320))
//	src.Interrupt(errors.New("unplugged"))
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// OpenCall records a single invocation of [Source.Open].
type OpenCall struct {
	Ctx    context.Context
	Format audio.CaptureFormat
}

// Source is a mock implementation of [audio.Source].
// Set the exported fields before use; inspect the call records after.
type Source struct {
	mu sync.Mutex

	// Device is reported in capture errors.
	Device string

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenDelay makes Open sleep before returning, to exercise concurrent
	// startup.
	OpenDelay time.Duration

	// OpenCalls records every call to Open.
	OpenCalls []OpenCall

	// ReleaseCount is the number of times a capture handle released the device.
	ReleaseCount int

	handle *audio.CaptureHandle
	opened chan struct{}
}

// Open implements [audio.Source]. It validates format like a real device and
// returns a handle whose frames are driven by [Source.Emit].
func (s *Source) Open(ctx context.Context, format audio.CaptureFormat, sink audio.FrameSink) (audio.Capture, error) {
	s.mu.Lock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Ctx: ctx, Format: format})
	openErr, delay := s.OpenErr, s.OpenDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}
	if err := format.Validate(); err != nil {
		return nil, &audio.CaptureError{Device: s.Device, Err: err}
	}

	h := audio.NewCaptureHandle(s.Device, format, sink, func() error {
		s.mu.Lock()
		s.ReleaseCount++
		s.mu.Unlock()
		return nil
	})

	s.mu.Lock()
	s.handle = h
	if s.opened == nil {
		s.opened = make(chan struct{})
	}
	select {
	case <-s.opened:
	default:
		close(s.opened)
	}
	s.mu.Unlock()
	return h, nil
}

// Opened returns a channel that is closed once Open has succeeded.
func (s *Source) Opened() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened == nil {
		s.opened = make(chan struct{})
	}
	return s.opened
}

// Emit delivers data through the open handle as a device callback would.
// It returns false if no handle is open or the handle has stopped.
func (s *Source) Emit(data []byte) (bool, error) {
	h := s.current()
	if h == nil {
		return false, errors.New("mock: source not opened")
	}
	return h.Deliver(data, time.Now())
}

// Interrupt fails the open handle with cause, as if the device was lost.
func (s *Source) Interrupt(cause error) {
	if h := s.current(); h != nil {
		h.Fail(cause)
	}
}

// Releases returns ReleaseCount. Thread-safe.
func (s *Source) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReleaseCount
}

func (s *Source) current() *audio.CaptureHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Ensure Source implements audio.Source at compile time.
var _ audio.Source = (*Source)(nil)
