package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"linerpc/internal/domain"
	"linerpc/internal/infra/config"
)

// RateLimited paces outbound requests with a token bucket. Callers block
// until a token is available or their context ends.
type RateLimited struct {
	inner   domain.Requester
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter of cfg.RequestsPerSecond and cfg.Burst.
func NewRateLimited(inner domain.Requester, cfg config.RateLimitConfig) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Request implements domain.Requester.
func (r *RateLimited) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, domain.WrapOp("RateLimited.Request", ctx.Err())
		}
		// Wait fails early when the next token lies beyond the deadline.
		return nil, domain.NewSubSystemError("guard", "RateLimited.Request", domain.ErrTimeout,
			fmt.Sprintf("%s: rate limit wait exceeds deadline", method))
	}
	return r.inner.Request(ctx, method, params)
}

var _ domain.Requester = (*RateLimited)(nil)
