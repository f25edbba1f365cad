package solana

import (
	"context"
	"sync"
	"time"

	"github.com/bimakw/solana-ingestor/internal/domain/entities"
)

// window is a fixed counter that resets once its size has elapsed
type window struct {
	size  time.Duration
	limit int
	count int
	start time.Time
}

// RateLimiter throttles requests against per-second, per-minute and per-hour budgets.
// Exceeding a budget delays the call; it is never rejected.
type RateLimiter struct {
	mu      sync.Mutex
	windows []*window
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a rate limiter. A nil limit or zero fields mean unlimited.
func NewRateLimiter(limit *entities.RateLimit) *RateLimiter {
	l := &RateLimiter{
		now:   time.Now,
		sleep: sleepContext,
	}
	if limit == nil {
		return l
	}

	for _, w := range []window{
		{size: time.Second, limit: limit.RequestsPerSecond},
		{size: time.Minute, limit: limit.RequestsPerMinute},
		{size: time.Hour, limit: limit.RequestsPerHour},
	} {
		if w.limit > 0 {
			l.windows = append(l.windows, &w)
		}
	}
	return l
}

// Wait blocks until every budget has room for one more request, then consumes it
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		d := l.reserve()
		if d == 0 {
			return nil
		}
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve consumes a request and returns 0, or returns how long to wait
func (l *RateLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	for _, w := range l.windows {
		if w.start.IsZero() || now.Sub(w.start) >= w.size {
			w.start = now
			w.count = 0
		}
		if w.count < w.limit {
			continue
		}

		// per-second overflow is a flat one second throttle
		d := time.Second
		if w.size > time.Second {
			d = w.size - now.Sub(w.start)
		}
		if d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait
	}

	for _, w := range l.windows {
		w.count++
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
