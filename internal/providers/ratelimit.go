package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by all page workers calling the same
// vision endpoint. A 429 drains the bucket and blocks new requests until the
// server's Retry-After has passed.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	tokens    float64
	updated   time.Time
	// blockedUntil is set by Record429 when the server names a pause.
	blockedUntil time.Time

	consumed int64
	waited   time.Duration
	last429  time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	PerMinute       int           `json:"per_minute"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	Last429Time     time.Time     `json:"last_429_time,omitempty"`
	BlockedUntil    time.Time     `json:"blocked_until,omitempty"`
}

// NewRateLimiter returns a limiter allowing perMinute requests with a burst
// of the same size. A non-positive rate defaults to 60.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perMinute: perMinute,
		tokens:    float64(perMinute),
		updated:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		r.refill(now)

		var wait time.Duration
		switch {
		case now.Before(r.blockedUntil):
			wait = r.blockedUntil.Sub(now)
		case r.tokens >= 1:
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		default:
			wait = r.untilToken()
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.refill(now)
	if now.Before(r.blockedUntil) || r.tokens < 1 {
		return false
	}
	r.tokens--
	r.consumed++
	return true
}

// Record429 notes a rate limit response. A positive retryAfter drains the
// bucket and pauses callers for that long.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.last429 = now
	if retryAfter > 0 {
		r.tokens = 0
		if until := now.Add(retryAfter); until.After(r.blockedUntil) {
			r.blockedUntil = until
		}
	}
}

// Status returns a snapshot of the limiter.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(time.Now())
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		PerMinute:       r.perMinute,
		TotalConsumed:   r.consumed,
		TotalWaited:     r.waited,
		Last429Time:     r.last429,
		BlockedUntil:    r.blockedUntil,
	}
}

// refill must be called with the lock held.
func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.updated).Seconds()
	r.updated = now
	r.tokens += elapsed * r.perSecond()
	if limit := float64(r.perMinute); r.tokens > limit {
		r.tokens = limit
	}
}

func (r *RateLimiter) perSecond() float64 {
	return float64(r.perMinute) / 60
}

func (r *RateLimiter) untilToken() time.Duration {
	need := 1 - r.tokens
	return time.Duration(need / r.perSecond() * float64(time.Second))
}
