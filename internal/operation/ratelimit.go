package operation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound calls with a token bucket shared by every
// caller of one Executor.
type RateLimiter struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained
// calls with the given burst. A call waits at most timeout for a token; a
// zero timeout waits as long as the context allows. Returns nil, meaning no
// limiting, when requestsPerSecond <= 0.
func NewRateLimiter(requestsPerSecond float64, burst int, timeout time.Duration) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		timeout: timeout,
	}
}

// Wait blocks until a call is allowed and returns how long it waited.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	if rl == nil {
		return 0, nil // No rate limiting configured
	}

	start := time.Now()

	waitCtx := ctx
	if rl.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, rl.timeout)
		defer cancel()
	}

	if err := rl.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return time.Since(start), ctx.Err()
		}
		return time.Since(start), &Error{
			Type:        ErrorTypeRateLimit,
			Message:     fmt.Sprintf("rate limit wait exceeded %v", rl.timeout),
			Cause:       err,
			SuggestText: "Increase rate_limit.timeout or reduce request frequency",
		}
	}
	return time.Since(start), nil
}

// Limit returns the configured rate in calls per second.
func (rl *RateLimiter) Limit() float64 {
	if rl == nil {
		return 0
	}
	return float64(rl.limiter.Limit())
}
