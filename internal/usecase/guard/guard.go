// Package guard wraps a domain.Requester with caller-side protection:
// per-request deadlines, a circuit breaker, rate limiting and tracing.
// None of the wrappers change what goes on the wire.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"linerpc/internal/domain"
	"linerpc/internal/infra/config"
)

// RequesterFunc adapts a function to domain.Requester.
type RequesterFunc func(ctx context.Context, method string, params any) (json.RawMessage, error)

// Request implements domain.Requester.
func (f RequesterFunc) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f(ctx, method, params)
}

// Chain wraps r according to cfg. From the outside in: tracing, rate
// limiting, circuit breaker, request timeout. Disabled layers are skipped.
func Chain(r domain.Requester, cfg config.GuardConfig, logger *slog.Logger) domain.Requester {
	if logger == nil {
		logger = slog.Default()
	}
	r = WithTimeout(r, cfg.RequestTimeout)
	if cfg.Breaker.Enabled {
		r = NewBreaker(r, "rpc", cfg.Breaker, logger)
	}
	if cfg.RateLimit.Enabled {
		r = NewRateLimited(r, cfg.RateLimit)
	}
	return NewTraced(r)
}

// WithTimeout bounds every request by d. A non-positive d returns inner.
func WithTimeout(inner domain.Requester, d time.Duration) domain.Requester {
	if d <= 0 {
		return inner
	}
	return RequesterFunc(func(ctx context.Context, method string, params any) (json.RawMessage, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		res, err := inner.Request(ctx, method, params)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			return nil, domain.NewSubSystemError("guard", "WithTimeout", domain.ErrTimeout,
				fmt.Sprintf("%s: no response within %s", method, d))
		}
		return res, err
	})
}
