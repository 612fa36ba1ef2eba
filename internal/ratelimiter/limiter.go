package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/retailhub/lottery-sync/internal/domain"
)

// DirectionLimiters holds one token bucket per sync direction, so a long
// pull cycle cannot starve outbound pushes of request budget.
// Burst equals the rate: no saved-up burst above the per-second maximum.
type DirectionLimiters struct {
	limiters map[domain.Direction]*rate.Limiter
}

// New creates DirectionLimiters allowing ratePerSec requests per second in
// each direction. A non-positive rate disables limiting.
func New(ratePerSec int) *DirectionLimiters {
	r, burst := rate.Limit(ratePerSec), ratePerSec
	if ratePerSec <= 0 {
		r, burst = rate.Inf, 0
	}

	return &DirectionLimiters{
		limiters: map[domain.Direction]*rate.Limiter{
			domain.DirectionPush: rate.NewLimiter(r, burst),
			domain.DirectionPull: rate.NewLimiter(r, burst),
		},
	}
}

// Wait blocks until the direction's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (dl *DirectionLimiters) Wait(ctx context.Context, dir domain.Direction) error {
	l, ok := dl.limiters[dir]
	if !ok {
		l = dl.limiters[domain.DirectionPush]
	}
	return l.Wait(ctx)
}
