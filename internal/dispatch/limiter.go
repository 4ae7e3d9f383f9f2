package dispatch

import (
	"context"

	"golang.org/x/time/rate"
)

// newLimiter builds a per-backend send limiter. Chat APIs throttle posts;
// a burst equal to the rate keeps short spikes from blocking too hard.
// ratePerSec <= 0 disables limiting.
func newLimiter(ratePerSec int) *rate.Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
