package roundtable

import (
	"time"

	"golang.org/x/time/rate"
)

// Inbound line budget per session. A client gets a burst of lines on
// connect and then a steady refill; lines over budget are dropped.
const (
	floodRefillInterval = 500 * time.Millisecond
	floodBurst          = 16
)

// floodLimiter throttles the protocol lines accepted from one session.
// The zero value is not valid for use.
type floodLimiter struct {
	limiter *rate.Limiter
}

// newFloodLimiter returns a limiter with the standard per-session budget.
func newFloodLimiter() *floodLimiter {
	return &floodLimiter{
		limiter: rate.NewLimiter(rate.Every(floodRefillInterval), floodBurst),
	}
}

// allow reports whether one more line fits the budget right now. It
// never blocks; the worker sweep cannot wait on a single client.
func (f *floodLimiter) allow() bool {
	return f.limiter.Allow()
}
