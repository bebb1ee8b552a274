package transport

import "time"

// Default reconnection parameters.
const (
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectPolicy decides whether and when a failed session dials again.
// The zero value disables reconnection.
type ReconnectPolicy struct {
	// MaxRetries is the number of reconnection attempts after a failure
	// before the session gives up. Zero disables reconnection. The count
	// resets once a connection reaches Open.
	MaxRetries int

	// Backoff is the delay before the first retry. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the delay. Defaults to 30s if zero.
	MaxBackoff time.Duration
}

// Allows reports whether attempt (1-based) may be made.
func (p ReconnectPolicy) Allows(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxRetries
}

// Delay returns the wait before attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	d := backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return min(d, maxBackoff)
}
