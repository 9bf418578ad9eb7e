package reconcile

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ThrottlePolicy spaces instrument fetches to respect provider rate limits.
// Fetches are already sequential; the policy only enforces the minimum gap
// between them, expressed as a rate limiter so the delay stays configurable
// per provider.
type ThrottlePolicy struct {
	limiter *rate.Limiter
}

// NewThrottlePolicy creates a policy with one permit per delay interval.
// A non-positive delay disables throttling.
func NewThrottlePolicy(delay time.Duration) *ThrottlePolicy {
	if delay <= 0 {
		return &ThrottlePolicy{}
	}
	return &ThrottlePolicy{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next fetch may proceed.
func (p *ThrottlePolicy) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
