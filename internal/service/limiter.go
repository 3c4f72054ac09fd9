package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a client may issue another request.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(client string) bool
}

// sweepThreshold is the number of tracked clients above which idle buckets
// are dropped.
const sweepThreshold = 1024

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-client token bucket [Limiter].
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter allows each client perMinute requests per minute with bursts
// of up to burst requests. Buckets unused for idle are forgotten once many
// clients are tracked. A perMinute of zero or less lets every request
// through.
func NewRateLimiter(perMinute float64, burst int, idle time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   perSecond(perMinute),
		burst:   max(burst, 1),
		idle:    idle,
		now:     time.Now,
	}
}

// Allow implements [Limiter].
func (l *RateLimiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[client]
	if !ok {
		if len(l.buckets) >= sweepThreshold {
			l.sweep(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[client] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// SetLimit changes the rate and burst for new and existing clients.
func (l *RateLimiter) SetLimit(perMinute float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = perSecond(perMinute)
	l.burst = max(burst, 1)
	now := l.now()
	for _, b := range l.buckets {
		b.lim.SetLimitAt(now, l.limit)
		b.lim.SetBurstAt(now, l.burst)
	}
}

// Clients returns the number of tracked clients.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep must be called with l.mu held.
func (l *RateLimiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, k)
		}
	}
}

func perSecond(perMinute float64) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(perMinute / 60)
}
