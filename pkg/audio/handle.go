package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// CaptureHandle is the shared [Capture] implementation used by the capture
// backends. It assigns sequence numbers, gates delivery so that nothing
// reaches the sink after Close, and optionally watches for a stalled device.
//
// Backends call [CaptureHandle.Deliver] from their capture thread and
// [CaptureHandle.Fail] when the device reports an error.
type CaptureHandle struct {
	device  string
	format  CaptureFormat
	sink    FrameSink
	release func() error

	seq  atomic.Uint64
	last atomic.Int64 // unix nanos of the most recent delivery

	// gate is read-locked by Deliver and write-locked once by shutdown so
	// that an in-flight delivery finishes before Close returns.
	gate   sync.RWMutex
	closed bool

	once       sync.Once
	done       chan struct{}
	err        error
	releaseErr error
}

// NewCaptureHandle returns a running handle for device. release is called
// exactly once when the handle stops (Close or Fail) and must free the
// device; it may be nil.
func NewCaptureHandle(device string, format CaptureFormat, sink FrameSink, release func() error) *CaptureHandle {
	h := &CaptureHandle{
		device:  device,
		format:  format,
		sink:    sink,
		release: release,
		done:    make(chan struct{}),
	}
	h.last.Store(time.Now().UnixNano())
	return h
}

// Deliver wraps data in the next [AudioFrame] and hands it to the sink. The
// handle takes ownership of data. It returns false once the handle has
// stopped. A payload that is not a whole number of samples is rejected.
func (h *CaptureHandle) Deliver(data []byte, at time.Time) (bool, error) {
	if size := h.format.SampleSize(); size > 0 && len(data)%size != 0 {
		return false, fmt.Errorf("audio: frame of %d bytes is not a multiple of the %d byte sample size", len(data), size)
	}

	h.gate.RLock()
	defer h.gate.RUnlock()
	if h.closed {
		return false, nil
	}
	h.last.Store(at.UnixNano())
	h.sink(AudioFrame{
		Data:      data,
		Seq:       h.seq.Add(1) - 1,
		Timestamp: at,
	})
	return true, nil
}

// Delivered returns the number of frames handed to the sink so far.
func (h *CaptureHandle) Delivered() uint64 { return h.seq.Load() }

// Watch starts a goroutine that fails the handle with
// [ErrCaptureInterrupted] when no frame has been delivered for timeout.
// A device that is unplugged typically just stops calling back.
func (h *CaptureHandle) Watch(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(timeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case now := <-ticker.C:
				idle := now.Sub(time.Unix(0, h.last.Load()))
				if idle > timeout {
					h.Fail(fmt.Errorf("no audio for %s", idle.Round(time.Millisecond)))
					return
				}
			}
		}
	}()
}

// Fail stops the handle with cause wrapped as [ErrCaptureInterrupted].
// Calls after the handle has stopped are ignored.
func (h *CaptureHandle) Fail(cause error) {
	h.stop(&CaptureError{Device: h.device, Err: fmt.Errorf("%w: %w", ErrCaptureInterrupted, cause)})
}

// Done implements [Capture].
func (h *CaptureHandle) Done() <-chan struct{} { return h.done }

// Err implements [Capture].
func (h *CaptureHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Close implements [Capture].
func (h *CaptureHandle) Close() error {
	h.stop(nil)
	return h.releaseErr
}

func (h *CaptureHandle) stop(err error) {
	h.once.Do(func() {
		h.gate.Lock()
		h.closed = true
		h.gate.Unlock()

		if h.release != nil {
			h.releaseErr = h.release()
		}
		h.err = err
		close(h.done)
	})
}

var _ Capture = (*CaptureHandle)(nil)
