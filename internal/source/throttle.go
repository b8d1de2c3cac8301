// Package source defines the uniform Source interface shared by the API,
// TTV, and TF upstreams, and the throttled HTTP client each one embeds.
//
// The rate-limiting shape is adapted from the teacher's server-side
// token-bucket limiter (internal/api/ratelimit.go) and its buffered-channel
// semaphore idiom (internal/web/handlers.go's archiveSemaphore), turned
// outbound: instead of limiting inbound requests per client IP, Throttle
// bounds concurrent outbound requests to one upstream and paces them with a
// minimum inter-request delay.
package source

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Throttle bounds concurrent outbound requests to one upstream and enforces
// a minimum delay between request starts. The semaphore permit is held only
// across the paced gap and the request itself — any backoff sleep after a
// failed attempt happens after the permit is released, per §4.5/§5.
type Throttle struct {
	sem    chan struct{}
	delay  time.Duration
	jitter time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewThrottle builds a Throttle allowing maxConcurrent in-flight requests,
// each started at least delay apart. jitter, if non-zero, adds a random
// extra [0, jitter) to every pacing wait (used by TF).
func NewThrottle(maxConcurrent int, delay, jitter time.Duration) *Throttle {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Throttle{
		sem:    make(chan struct{}, maxConcurrent),
		delay:  delay,
		jitter: jitter,
	}
}

// Acquire blocks until a permit is available and the pacing delay since the
// last request start has elapsed, then returns a release func. The caller
// must call release as soon as the request (not any subsequent backoff) is
// done.
func (t *Throttle) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	wait := t.paceWait()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			<-t.sem
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-t.sem
	}, nil
}

func (t *Throttle) paceWait() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		return 0
	}
	target := t.delay
	if t.jitter > 0 {
		target += time.Duration(rand.Int63n(int64(t.jitter)))
	}
	wait := time.Until(t.last.Add(target))
	if wait < 0 {
		return 0
	}
	return wait
}
