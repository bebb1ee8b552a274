package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by [FrameQueue.Pop] once the queue has been
// closed and every remaining frame has been consumed.
var ErrQueueClosed = errors.New("audio: frame queue closed")

// DefaultQueueCapacity holds about 300 ms of audio at 10 ms per frame.
const DefaultQueueCapacity = 30

// FrameQueue is a bounded FIFO between a producer that must never block (the
// device callback) and a consumer that may (the network sender).
//
// When the queue is full, Push evicts the oldest frame and records a
// FrameDropped event. Evictions only ever remove the head, so the surviving
// frames keep their relative order. The internal lock is held only for
// slice bookkeeping, never across I/O or a callback.
//
// All methods are safe for concurrent use.
type FrameQueue struct {
	mu     sync.Mutex
	buf    []AudioFrame // ring buffer of len == capacity
	head   int
	size   int
	closed bool

	// ready has capacity one and is signalled whenever a frame is pushed or
	// the queue is closed.
	ready chan struct{}

	dropped atomic.Uint64
	onDrop  func(AudioFrame)
}

// QueueOption configures a [FrameQueue].
type QueueOption func(*FrameQueue)

// WithDropHook registers fn to be called with every evicted frame. fn runs
// on the producer's goroutine and must be as cheap as the producer requires.
func WithDropHook(fn func(AudioFrame)) QueueOption {
	return func(q *FrameQueue) { q.onDrop = fn }
}

// NewFrameQueue creates a queue holding at most capacity frames. A
// non-positive capacity selects [DefaultQueueCapacity].
func NewFrameQueue(capacity int, opts ...QueueOption) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &FrameQueue{
		buf:   make([]AudioFrame, capacity),
		ready: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push appends f without blocking. If the queue is full, the oldest frame
// is evicted first. It returns false if the queue is closed, in which case
// f is discarded and not counted as a drop.
func (q *FrameQueue) Push(f AudioFrame) bool {
	var (
		evicted AudioFrame
		didDrop bool
	)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.size == len(q.buf) {
		evicted = q.buf[q.head]
		q.buf[q.head] = AudioFrame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		didDrop = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	q.mu.Unlock()

	if didDrop {
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop(evicted)
		}
	}
	q.signal()
	return true
}

// Pop removes and returns the oldest frame, blocking until one is available.
// After Close, remaining frames are still returned; once the queue is empty
// Pop returns [ErrQueueClosed]. It returns ctx.Err() if ctx ends first.
func (q *FrameQueue) Pop(ctx context.Context) (AudioFrame, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			f := q.buf[q.head]
			q.buf[q.head] = AudioFrame{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			more := q.size > 0
			q.mu.Unlock()
			if more {
				// Keep the signal armed for the next waiter.
				q.signal()
			}
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			q.signal()
			return AudioFrame{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return AudioFrame{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Close stops the queue from accepting frames and wakes blocked consumers.
// Safe to call more than once.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int { return len(q.buf) }

// Dropped returns the total number of frames evicted on overflow.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *FrameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
