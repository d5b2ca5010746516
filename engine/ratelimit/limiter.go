// Package ratelimit implements the keyed token-bucket rate limiter used
// both by the engine's per-nickname message limiter and by the line
// adapter's per-connection command pacer.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dollspace-gay/concord/shared/concurrentmap"
)

// Limiter is a keyed token bucket: burst capacity and refill rate are
// fixed at construction, and each distinct key gets its own independent
// bucket, lazily created on first use.
type Limiter struct {
	burst      int
	refillRate float64

	buckets concurrentmap.ConcurrentMap[string, *rate.Limiter]

	// mu guards the create-on-first-use path so two goroutines racing
	// to create the same key's bucket can't both win and silently
	// double a caller's burst allowance.
	mu sync.Mutex
}

// New constructs a Limiter with the given burst capacity (tokens) and
// refill rate (tokens/second).
func New(burst int, refillPerSecond float64) *Limiter {
	return &Limiter{
		burst:      burst,
		refillRate: refillPerSecond,
		buckets:    concurrentmap.New[string, *rate.Limiter](),
	}
}

// Check atomically refills the bucket for key based on elapsed time
// since its last check (clamped at burst), then consumes one token and
// returns true if one was available, false otherwise.
func (l *Limiter) Check(key string) bool {
	return l.bucket(key).Allow()
}

// CheckAt is identical to Check but lets tests supply a synthetic clock
// instant instead of depending on wall-clock time.
func (l *Limiter) CheckAt(key string, at time.Time) bool {
	return l.bucket(key).AllowN(at, 1)
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if b, ok := l.buckets.Get(key); ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(key); ok {
		return b
	}

	b := rate.NewLimiter(rate.Limit(l.refillRate), l.burst)
	l.buckets.Set(key, b)
	return b
}

// Forget drops a key's bucket, e.g. once a connection-local pacer's
// owning connection closes.
func (l *Limiter) Forget(key string) {
	l.buckets.Delete(key)
}
