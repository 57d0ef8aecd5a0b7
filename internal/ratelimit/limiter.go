// Package ratelimit bounds how fast any one client can push control frames
// at the relay, independent of the per-client mailbox backpressure on the
// outbound side (the per-client mailbox handles outbound backpressure; this covers inbound
// abuse/runaway-client protection).
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Default token-bucket parameters: sustained rate and burst allowance per
// client. Generous enough for normal chat/call signaling traffic, tight
// enough to bound a misbehaving or compromised client.
const (
	DefaultRatePerSecond = 20
	DefaultBurst         = 40
)

// Limiter tracks one token bucket per client name, created lazily on first
// use and discarded on Forget (session teardown).
type Limiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a Limiter using the default rate and burst.
func New() *Limiter {
	return NewWithRate(DefaultRatePerSecond, DefaultBurst)
}

// NewWithRate returns a Limiter with a custom sustained rate (per second)
// and burst size, for tests and operator-tunable configuration.
func NewWithRate(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{
		rps:     rate.Limit(ratePerSecond),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether name may send another frame right now, consuming one
// token if so.
func (l *Limiter) Allow(name string) bool {
	return l.bucketFor(name).Allow()
}

func (l *Limiter) bucketFor(name string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[name]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[name] = b
	}
	return b
}

// Forget drops name's bucket so a reused name starts fresh and a departed
// client's state doesn't leak.
func (l *Limiter) Forget(name string) {
	l.mu.Lock()
	delete(l.buckets, name)
	l.mu.Unlock()
}
