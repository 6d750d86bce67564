// Package correlator assigns request ids and matches responses to the calls
// waiting on them.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"linerpc/internal/domain"
)

// Call is the caller's handle on one in-flight request. It completes exactly
// once: with a result, an RPC error, a local error, or the closed error.
type Call struct {
	ID     uint64
	Method string

	done   chan struct{}
	once   sync.Once
	result json.RawMessage
	err    error

	owner *Correlator
}

func newCall(id uint64, method string, owner *Correlator) *Call {
	return &Call{ID: id, Method: method, done: make(chan struct{}), owner: owner}
}

// complete reports whether this invocation was the one that settled the call.
func (c *Call) complete(result json.RawMessage, err error) bool {
	fired := false
	c.once.Do(func() {
		c.result, c.err = result, err
		close(c.done)
		fired = true
	})
	return fired
}

// Done is closed once the call has completed.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result blocks until the call completes and returns its outcome.
func (c *Call) Result() (json.RawMessage, error) {
	<-c.done
	return c.result, c.err
}

// Wait blocks until the call completes or ctx is done. When ctx wins, the
// call is abandoned: its table entry is removed and a later response for the
// same id is discarded.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
	}

	err := contextError(c.Method, ctx.Err())
	if c.owner != nil {
		c.owner.Abandon(c.ID, err)
	} else {
		c.complete(nil, err)
	}
	// Either Abandon settled the call or a response/flush did first.
	<-c.done
	return c.result, c.err
}

func contextError(method string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewSubSystemError("request", "Call.Wait", domain.ErrTimeout, method)
	}
	return domain.WrapOp("Call.Wait "+method, err)
}

// Failed returns a call that has already completed with err. It is handed
// out when a request cannot even be registered.
func Failed(method string, err error) *Call {
	c := newCall(0, method, nil)
	c.complete(nil, err)
	return c
}

// Correlator owns the pending-call table of one connection. All methods are
// safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Call
	flushed error
	logger  *slog.Logger
}

// New creates a Correlator. Ids start at 1.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		pending: make(map[uint64]*Call),
		logger:  logger,
	}
}

// Register allocates the next id and records a pending call for method.
// After Flush it returns the flush error instead.
func (c *Correlator) Register(method string) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flushed != nil {
		return nil, c.flushed
	}
	c.nextID++
	call := newCall(c.nextID, method, c)
	c.pending[call.ID] = call
	return call, nil
}

// Resolve completes the call matching resp with its result. Responses with
// no matching pending call are logged and discarded.
func (c *Correlator) Resolve(resp *domain.Response) bool {
	call := c.take(resp.ID)
	if call == nil {
		return false
	}
	return call.complete(resp.Result, nil)
}

// Reject completes the call matching re with its RPC error.
func (c *Correlator) Reject(re *domain.ResponseError) bool {
	call := c.take(re.ID)
	if call == nil {
		return false
	}
	rpcErr := re.Error
	return call.complete(nil, &rpcErr)
}

func (c *Correlator) take(rawID json.RawMessage) *Call {
	id, ok := domain.NumericID(rawID)
	if !ok {
		c.logger.Warn("discarding response with unusable id", "id", string(rawID))
		return nil
	}

	c.mu.Lock()
	call, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !found {
		c.logger.Warn("discarding response for unknown id", "id", id)
		return nil
	}
	return call
}

// Abandon removes the call with the given id, if still pending, and
// completes it with err. It reports whether a call was removed.
func (c *Correlator) Abandon(id uint64, err error) bool {
	c.mu.Lock()
	call, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !found {
		return false
	}
	c.logger.Debug("call abandoned", "id", id, "method", call.Method, "error", err)
	return call.complete(nil, err)
}

// Flush fails every pending call with err and refuses new registrations.
// Only the first Flush has any effect; it returns the number of calls failed.
func (c *Correlator) Flush(err error) int {
	if err == nil {
		err = domain.ErrConnectionClosed
	}

	c.mu.Lock()
	if c.flushed != nil {
		c.mu.Unlock()
		return 0
	}
	c.flushed = err
	calls := c.pending
	c.pending = make(map[uint64]*Call)
	c.mu.Unlock()

	n := 0
	for _, call := range calls {
		if call.complete(nil, err) {
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("pending calls flushed", "count", n, "error", err)
	}
	return n
}

// Pending returns the number of calls awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
