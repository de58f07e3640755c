// Package pacing throttles external-call batches. The orchestrator receives
// a Policy instead of sleeping directly so tests can run with no delay.
package pacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy blocks until the next batch may start.
type Policy interface {
	Wait(ctx context.Context) error
	// Interval is the steady-state gap between batches, used for projections.
	Interval() time.Duration
}

// None never waits.
type None struct{}

func (None) Wait(ctx context.Context) error { return ctx.Err() }
func (None) Interval() time.Duration        { return 0 }

// FixedDelay spaces batches at least Delay apart. The first batch starts
// immediately.
type FixedDelay struct {
	delay time.Duration

	mu   sync.Mutex
	next time.Time
	now  func() time.Time
}

// NewFixedDelay returns a fixed-delay policy.
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{delay: delay, now: time.Now}
}

func (f *FixedDelay) Wait(ctx context.Context) error {
	f.mu.Lock()
	now := f.now()
	start := now
	if f.next.After(now) {
		start = f.next
	}
	f.next = start.Add(f.delay)
	f.mu.Unlock()

	wait := start.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *FixedDelay) Interval() time.Duration { return f.delay }

// TokenBucket allows short bursts while holding an average rate.
type TokenBucket struct {
	limiter *rate.Limiter
	every   time.Duration
}

// NewTokenBucket allows one batch every `every` with the given burst.
func NewTokenBucket(every time.Duration, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Every(every), burst),
		every:   every,
	}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *TokenBucket) Interval() time.Duration { return t.every }

// New builds a policy by name: "none", "fixed" or "token_bucket".
func New(kind string, delay time.Duration, burst int) (Policy, error) {
	switch kind {
	case "", "none":
		return None{}, nil
	case "fixed":
		if delay <= 0 {
			return None{}, nil
		}
		return NewFixedDelay(delay), nil
	case "token_bucket":
		if delay <= 0 {
			return None{}, nil
		}
		return NewTokenBucket(delay, burst), nil
	}
	return nil, fmt.Errorf("unknown pacing policy %q", kind)
}
