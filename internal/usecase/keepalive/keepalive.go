// Package keepalive sends a periodic no-op request over an open connection
// so idle servers and middleboxes do not drop it.
package keepalive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"linerpc/internal/domain"
	"linerpc/internal/infra/config"
)

// Option configures a Pinger.
type Option func(*Pinger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pinger) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithParams sets the params sent with each ping. Defaults to none.
func WithParams(params any) Option {
	return func(p *Pinger) { p.params = params }
}

// WithOnFailure is called after every failed ping with the number of
// consecutive failures so far.
func WithOnFailure(fn func(consecutive int, err error)) Option {
	return func(p *Pinger) { p.onFailure = fn }
}

// Pinger issues cfg.Method every cfg.Interval. A ping still in flight when
// the next one is due causes that tick to be skipped.
type Pinger struct {
	requester domain.Requester
	method    string
	params    any
	interval  time.Duration
	timeout   time.Duration
	onFailure func(int, error)
	logger    *slog.Logger

	cron     *cron.Cron
	failures atomic.Int32
	sent     atomic.Int64

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Pinger for r. It does nothing until Start.
func New(r domain.Requester, cfg config.KeepaliveConfig, opts ...Option) *Pinger {
	p := &Pinger{
		requester: r,
		method:    cfg.Method,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	p.cron.Schedule(constantDelay{p.interval}, cron.FuncJob(p.tick))
	return p
}

// Start begins pinging. Pings stop when ctx is canceled or Stop is called.
func (p *Pinger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron.Start()
	p.started = true
	p.logger.Debug("keepalive started", "method", p.method, "interval", p.interval)
	return nil
}

// Stop halts pinging and waits for an in-flight ping to finish.
func (p *Pinger) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.started = false
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	return nil
}

// Ping sends one ping now and returns its error.
func (p *Pinger) Ping(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.sent.Add(1)
	start := time.Now()
	_, err := p.requester.Request(ctx, p.method, p.params)
	if err != nil {
		n := int(p.failures.Add(1))
		p.logger.Warn("keepalive ping failed",
			"method", p.method,
			"error", err,
			"consecutive_failures", n,
			"duration", time.Since(start))
		if p.onFailure != nil {
			p.onFailure(n, err)
		}
		return err
	}
	p.failures.Store(0)
	p.logger.Debug("keepalive ping ok", "method", p.method, "duration", time.Since(start))
	return nil
}

// Sent returns the number of pings issued.
func (p *Pinger) Sent() int64 { return p.sent.Load() }

// Failures returns the current count of consecutive failed pings.
func (p *Pinger) Failures() int { return int(p.failures.Load()) }

func (p *Pinger) tick() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		p.logger.Debug("keepalive stopped, skipping ping")
		return
	}
	_ = p.Ping(ctx)
}

// constantDelay implements cron.Schedule for a fixed interval.
// Unlike cron.Every(), it supports sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
