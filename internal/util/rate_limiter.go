package util

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// DefaultWindow is the length of the fixed counting window
	DefaultWindow = 60 * time.Second
	// DefaultMaxCalls is the number of calls allowed per window
	DefaultMaxCalls = 100
	// DefaultMinInterval is the minimum spacing between two granted calls
	DefaultMinInterval = 1500 * time.Millisecond
	// DefaultCooldown is the pause applied after an upstream rate-limit response
	DefaultCooldown = 15 * time.Second
)

// Clock returns the current time.
type Clock func() time.Time

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RateLimiter paces calls to one external service. It allows at most maxCalls
// per fixed window, keeps at least minInterval between granted calls, and
// holds every caller back during a cooldown. Callers over the limit wait;
// nothing is dropped.
type RateLimiter struct {
	mu          sync.Mutex
	name        string
	window      time.Duration
	maxCalls    int
	minInterval time.Duration
	cooldown    time.Duration
	spacing     *rate.Limiter

	windowStart  time.Time
	calls        int
	blockedUntil time.Time
	total        int

	now   Clock
	sleep Sleeper
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock replaces the time source.
func WithClock(c Clock) Option {
	return func(r *RateLimiter) { r.now = c }
}

// WithSleeper replaces the blocking wait.
func WithSleeper(s Sleeper) Option {
	return func(r *RateLimiter) { r.sleep = s }
}

// WithName labels log lines emitted by the limiter.
func WithName(name string) Option {
	return func(r *RateLimiter) { r.name = name }
}

// NewRateLimiter creates a limiter. Non-positive arguments fall back to the defaults.
func NewRateLimiter(window time.Duration, maxCalls int, minInterval, cooldown time.Duration, opts ...Option) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	if minInterval < 0 {
		minInterval = DefaultMinInterval
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	r := &RateLimiter{
		window:      window,
		maxCalls:    maxCalls,
		minInterval: minInterval,
		cooldown:    cooldown,
		spacing:     rate.NewLimiter(rate.Every(minInterval), 1),
		now:         time.Now,
		sleep:       SleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire blocks until the caller may make one external call.
// It only fails if ctx ends while waiting.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		now := r.now()

		if now.Before(r.blockedUntil) {
			wait := r.blockedUntil.Sub(now)
			r.mu.Unlock()
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if r.windowStart.IsZero() || now.Sub(r.windowStart) >= r.window {
			r.windowStart = now
			r.calls = 0
		}

		if r.calls >= r.maxCalls {
			wait := r.windowStart.Add(r.window).Sub(now)
			r.mu.Unlock()
			log.Debug().
				Str("limiter", r.name).
				Dur("wait", wait).
				Msg("Rate limit window exhausted, waiting for next window")
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		r.calls++
		r.total++
		res := r.spacing.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		r.mu.Unlock()

		if delay <= 0 {
			return nil
		}
		if err := r.sleep(ctx, delay); err != nil {
			r.mu.Lock()
			res.CancelAt(r.now())
			r.calls--
			r.total--
			r.mu.Unlock()
			return err
		}
		return nil
	}
}

// OnRateLimit records an upstream rate-limit response and returns the cooldown
// that will be applied: the configured cooldown or the server's hint, whichever
// is longer. Subsequent Acquire calls wait until the cooldown has passed.
func (r *RateLimiter) OnRateLimit(retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.cooldown
	if retryAfter > d {
		d = retryAfter
	}
	until := r.now().Add(d)
	if until.After(r.blockedUntil) {
		r.blockedUntil = until
	}

	log.Warn().
		Str("limiter", r.name).
		Dur("cooldown", d).
		Dur("retry_after", retryAfter).
		Msg("Rate limited by upstream, cooling down")
	return d
}

// Calls returns the number of calls granted so far.
func (r *RateLimiter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// MinInterval returns the configured spacing between calls.
func (r *RateLimiter) MinInterval() time.Duration {
	return r.minInterval
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
