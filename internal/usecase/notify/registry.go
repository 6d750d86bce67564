// Package notify routes server notifications to subscribers by method name.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"linerpc/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.NotificationHandler
}

// Registry is a goroutine-safe method → handlers table. Dispatch runs the
// handlers synchronously in registration order, so notifications for one
// connection are observed in arrival order.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string][]subscription
	allSubs []func(method string, params json.RawMessage)
	nextID  atomic.Uint64
	logger  *slog.Logger
}

// New creates a notification registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for notifications named method.
// Returns an unsubscribe function; calling it more than once is harmless.
func (r *Registry) Subscribe(method string, handler domain.NotificationHandler) func() {
	id := r.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	r.mu.Lock()
	r.byName[method] = append(r.byName[method], sub)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.byName[method]
		for i, s := range subs {
			if s.id == id {
				// Copy so a Dispatch holding the old slice is unaffected.
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				next = append(next, subs[i+1:]...)
				if len(next) == 0 {
					delete(r.byName, method)
				} else {
					r.byName[method] = next
				}
				return
			}
		}
	}
}

// Observe registers fn to see every notification after the method handlers
// have run. Used for logging and the CLI watch command.
func (r *Registry) Observe(fn func(method string, params json.RawMessage)) {
	r.mu.Lock()
	r.allSubs = append(r.allSubs, fn)
	r.mu.Unlock()
}

// Dispatch delivers one notification and returns how many method handlers
// received it. Panicking handlers are recovered and logged.
func (r *Registry) Dispatch(n *domain.Notification) int {
	r.mu.RLock()
	subs := r.byName[n.Method]
	observers := r.allSubs
	r.mu.RUnlock()

	for _, sub := range subs {
		r.invoke(n, func() { sub.handler(n.Params) })
	}
	for _, fn := range observers {
		r.invoke(n, func() { fn(n.Method, n.Params) })
	}
	if len(subs) == 0 {
		r.logger.Debug("notification without subscriber", "method", n.Method, "params", n.Params)
	}
	return len(subs)
}

func (r *Registry) invoke(n *domain.Notification, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification handler panicked",
				"method", n.Method,
				"panic", rec,
			)
		}
	}()
	fn()
}

// Subscribers returns how many handlers are registered for method.
func (r *Registry) Subscribers(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[method])
}
