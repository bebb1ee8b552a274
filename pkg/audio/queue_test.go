package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func frame(seq uint64) AudioFrame {
	return AudioFrame{Data: make([]byte, 320), Seq: seq}
}

func TestFrameQueue_FIFOWithoutOverflow(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(8)
	for i := range uint64(8) {
		if !q.Push(frame(i)) {
			t.Fatalf("Push(%d) rejected", i)
		}
	}
	if got := q.Len(); got != 8 {
		t.Fatalf("Len = %d, want 8", got)
	}

	ctx := context.Background()
	for i := range uint64(8) {
		f, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if f.Seq != i {
			t.Fatalf("Pop #%d returned seq %d", i, f.Seq)
		}
	}
	if q.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", q.Dropped())
	}
}

func TestFrameQueue_OverflowDropsOldest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		pushed   int
	}{
		{"one over", 4, 5},
		{"twice capacity", 4, 8},
		{"many over", 3, 50},
		{"capacity one", 1, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var hookSeqs []uint64
			q := NewFrameQueue(tc.capacity, WithDropHook(func(f AudioFrame) {
				hookSeqs = append(hookSeqs, f.Seq)
			}))
			for i := range tc.pushed {
				q.Push(frame(uint64(i)))
			}

			wantDropped := tc.pushed - tc.capacity
			if got := q.Dropped(); got != uint64(wantDropped) {
				t.Fatalf("Dropped = %d, want %d", got, wantDropped)
			}
			if len(hookSeqs) != wantDropped {
				t.Fatalf("drop hook called %d times, want %d", len(hookSeqs), wantDropped)
			}
			for i, s := range hookSeqs {
				if s != uint64(i) {
					t.Fatalf("drop #%d evicted seq %d, want %d (head first)", i, s, i)
				}
			}

			q.Close()
			want := uint64(wantDropped)
			for {
				f, err := q.Pop(context.Background())
				if errors.Is(err, ErrQueueClosed) {
					break
				}
				if err != nil {
					t.Fatalf("Pop: %v", err)
				}
				if f.Seq != want {
					t.Fatalf("Pop returned seq %d, want %d", f.Seq, want)
				}
				want++
			}
			if want != uint64(tc.pushed) {
				t.Errorf("drained up to seq %d, want %d", want, tc.pushed)
			}
		})
	}
}

func TestFrameQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(2)
	got := make(chan AudioFrame, 1)
	go func() {
		f, err := q.Pop(context.Background())
		if err == nil {
			got <- f
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any frame was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(frame(7))
	select {
	case f := <-got:
		if f.Seq != 7 {
			t.Errorf("seq = %d, want 7", f.Seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestFrameQueue_CloseWakesConsumer(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(2)
	errc := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after Close")
	}

	if q.Push(frame(1)) {
		t.Error("Push after Close was accepted")
	}
	if q.Dropped() != 0 {
		t.Error("rejected push after Close must not count as a drop")
	}
}

func TestFrameQueue_PopContextCancel(t *testing.T) {
	t.Parallel()

	q := NewFrameQueue(2)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestFrameQueue_DefaultCapacity(t *testing.T) {
	t.Parallel()

	if got := NewFrameQueue(0).Cap(); got != DefaultQueueCapacity {
		t.Errorf("Cap = %d, want %d", got, DefaultQueueCapacity)
	}
}

func TestFrameQueue_ConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()

	const total = 5000
	q := NewFrameQueue(16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range uint64(total) {
			q.Push(frame(i))
		}
		q.Close()
	}()

	var (
		received int
		last     int64 = -1
	)
	for {
		f, err := q.Pop(context.Background())
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if int64(f.Seq) <= last {
			t.Fatalf("out of order: seq %d after %d", f.Seq, last)
		}
		last = int64(f.Seq)
		received++
	}
	wg.Wait()

	if uint64(received)+q.Dropped() != total {
		t.Errorf("received %d + dropped %d != %d", received, q.Dropped(), total)
	}
}
