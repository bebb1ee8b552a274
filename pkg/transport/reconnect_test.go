package transport

import (
	"errors"
	"testing"
	"time"
)

func TestReconnectPolicy_Delay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  ReconnectPolicy
		attempt int
		want    time.Duration
	}{
		{"defaults first", ReconnectPolicy{}, 1, time.Second},
		{"defaults doubles", ReconnectPolicy{}, 3, 4 * time.Second},
		{"defaults capped", ReconnectPolicy{}, 10, 30 * time.Second},
		{"custom", ReconnectPolicy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}, 2, 200 * time.Millisecond},
		{"custom capped", ReconnectPolicy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}, 5, time.Second},
		{"backoff above cap", ReconnectPolicy{Backoff: 5 * time.Second, MaxBackoff: time.Second}, 1, time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.policy.Delay(tc.attempt); got != tc.want {
				t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
			}
		})
	}
}

func TestReconnectPolicy_Allows(t *testing.T) {
	t.Parallel()

	if (ReconnectPolicy{}).Allows(1) {
		t.Error("zero policy allows a retry")
	}
	p := ReconnectPolicy{MaxRetries: 3}
	for attempt, want := range map[int]bool{0: false, 1: true, 3: true, 4: false} {
		if got := p.Allows(attempt); got != want {
			t.Errorf("Allows(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestError_MatchesKindAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := error(&Error{Op: "write", Kind: ErrWriteFailed, Err: cause})

	if !errors.Is(err, ErrWriteFailed) {
		t.Error("errors.Is(err, ErrWriteFailed) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if errors.Is(err, ErrNotOpen) {
		t.Error("errors.Is(err, ErrNotOpen) = true")
	}
	if got, want := err.Error(), "transport: write: write failed: connection reset"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got, want := (&Error{Op: "send", Kind: ErrNotOpen}).Error(), "transport: send: session not open"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		Idle: "idle", Connecting: "connecting", Open: "open",
		Closing: "closing", Closed: "closed", Failed: "failed", State(42): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
	if Open.Terminal() || !Closed.Terminal() || !Failed.Terminal() {
		t.Error("Terminal() reports the wrong states")
	}
}
