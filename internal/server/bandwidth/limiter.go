// Package bandwidth throttles response bodies to a shared egress budget.
package bandwidth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a byte token bucket shared by every response it throttles.
//
// The bucket holds one second worth of bytes, and writes are split in chunks
// of at most that size.
type Limiter struct {
	lim   *rate.Limiter
	chunk int
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewLimiter returns a limiter allowing maxBytesPerSecond. It returns nil when
// maxBytesPerSecond is 0 or less, which means unlimited.
func NewLimiter(maxBytesPerSecond int64) *Limiter {
	if maxBytesPerSecond <= 0 {
		return nil
	}
	chunk := int(min(maxBytesPerSecond, 1<<30))
	return &Limiter{
		lim:   rate.NewLimiter(rate.Limit(maxBytesPerSecond), chunk),
		chunk: chunk,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// wait blocks until n bytes may be sent. n must not exceed l.chunk.
func (l *Limiter) wait(ctx context.Context, n int) error {
	now := l.now()
	r := l.lim.ReserveN(now, n)
	if !r.OK() {
		return fmt.Errorf("cannot send %d bytes at once, limit is %d", n, l.chunk)
	}
	d := r.DelayFrom(now)
	if d == 0 {
		return nil
	}
	if err := l.sleep(ctx, d); err != nil {
		r.CancelAt(l.now())
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ResponseWriter paces body writes through a Limiter.
type ResponseWriter struct {
	http.ResponseWriter
	ctx context.Context
	l   *Limiter
}

// NewResponseWriter wraps w. Writes stop early with ctx's error once ctx is
// done.
func NewResponseWriter(ctx context.Context, w http.ResponseWriter, l *Limiter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, ctx: ctx, l: l}
}

// Write sends b in chunks, waiting for the budget before each one.
func (w *ResponseWriter) Write(b []byte) (int, error) {
	written := 0
	for len(b) > 0 {
		n := min(len(b), w.l.chunk)
		if err := w.l.wait(w.ctx, n); err != nil {
			return written, err
		}
		m, err := w.ResponseWriter.Write(b[:n])
		written += m
		if err != nil {
			return written, err
		}
		b = b[n:]
	}
	return written, nil
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (w *ResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Handler throttles the response bodies of next. A nil limiter returns next
// unchanged.
func Handler(l *Limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(NewResponseWriter(r.Context(), w, l), r)
	})
}
