package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"linerpc/internal/domain"
	"linerpc/internal/infra/config"
)

// Breaker wraps a Requester with circuit breaker protection. When the
// server keeps failing (timeouts, dropped connections), the circuit opens
// and calls fail fast with domain.ErrCircuitOpen without being written.
//
// Error responses from the server count as successes: the server answered.
// So does a caller canceling its own context.
type Breaker struct {
	inner   domain.Requester
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
}

// NewBreaker wraps inner with a circuit breaker named name.
func NewBreaker(inner domain.Requester, name string, cfg config.BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isSuccessful,
	})
	return &Breaker{inner: inner, breaker: cb}
}

func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var rpcErr *domain.RPCError
	return errors.As(err, &rpcErr)
}

// Request implements domain.Requester.
func (b *Breaker) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	res, err := b.breaker.Execute(func() (json.RawMessage, error) {
		return b.inner.Request(ctx, method, params)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, domain.NewSubSystemError("guard", "Breaker.Request", domain.ErrCircuitOpen,
			fmt.Sprintf("%s: %v", method, err))
	}
	return res, err
}

// State returns the current circuit breaker state for monitoring.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}

var _ domain.Requester = (*Breaker)(nil)
