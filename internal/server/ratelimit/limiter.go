// Implements a per-key token bucket rate limiter.

// Package ratelimit implements token bucket rate limiting for HTTP handlers.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // requests left in current window
	ResetAt    time.Time     // when the bucket will be full again
	RetryAfter time.Duration // how long to wait before retrying (0 if allowed)
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	limit   int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing requests per window with the given
// burst. Stale buckets are evicted in the background until Close is called.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   max(burst, 1),
		limit:   requests,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop(10 * time.Minute)
	return l
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) Result {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := Result{Limit: l.limit}
	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	switch {
	case r.OK() && delay == 0:
		res.Allowed = true
	case r.OK():
		r.CancelAt(now)
		res.RetryAfter = max(time.Duration(math.Ceil(delay.Seconds()))*time.Second, time.Second)
	default:
		res.RetryAfter = time.Second
	}

	tokens := b.limiter.TokensAt(now)
	res.Remaining = max(int(tokens), 0)
	missing := float64(l.burst) - tokens
	res.ResetAt = now.Add(time.Duration(missing / float64(l.rate) * float64(time.Second)))
	return res
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup(every)
		case <-l.stop:
			return
		}
	}
}

// cleanup drops buckets idle for longer than idle that have refilled.
func (l *Limiter) cleanup(idle time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idle && b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
