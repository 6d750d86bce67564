// Package client implements the JSON-RPC connection runtime: it owns one
// transport, turns its byte stream into frames and messages, correlates
// responses with pending calls, and routes notifications to subscribers.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"linerpc/internal/adapter/framer"
	"linerpc/internal/adapter/jsonrpc"
	"linerpc/internal/domain"
	"linerpc/internal/usecase/correlator"
	"linerpc/internal/usecase/notify"
)

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger. The connection id is attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxFramesPerPass bounds how many frames one framer pass emits before
// suspending and resuming on the remainder.
func WithMaxFramesPerPass(n int) Option {
	return func(c *Connection) { c.framerOpts = append(c.framerOpts, framer.WithMaxFramesPerPass(n)) }
}

// WithMaxFrameSize closes the connection when a frame grows past n bytes.
func WithMaxFrameSize(n int) Option {
	return func(c *Connection) { c.framerOpts = append(c.framerOpts, framer.WithMaxFrameSize(n)) }
}

// WithOnClose registers fn to run once when the connection reaches Closed.
// err is nil for a local Close.
func WithOnClose(fn func(err error)) Option {
	return func(c *Connection) { c.onClose = append(c.onClose, fn) }
}

// Connection is one JSON-RPC session over one transport. It is single use:
// once Closed, a new Connection is needed to talk to the server again.
type Connection struct {
	id         string
	transport  domain.Transport
	framer     *framer.Framer
	framerOpts []framer.Option
	calls      *correlator.Correlator
	notes      *notify.Registry
	logger     *slog.Logger
	onClose    []func(error)

	state     atomic.Int32
	connectMu sync.Mutex
	recvMu    sync.Mutex

	closing atomic.Bool
	done    chan struct{}
	err     error
}

// New creates an Idle connection over transport.
func New(transport domain.Transport, opts ...Option) *Connection {
	c := &Connection{
		id:        newID(),
		transport: transport,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("conn_id", c.id)
	c.framer = framer.New(c.framerOpts...)
	c.calls = correlator.New(c.logger)
	c.notes = notify.New(c.logger)
	return c
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() domain.ConnectionState {
	return domain.ConnectionState(c.state.Load())
}

// Done is closed when the connection reaches Closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns why the connection closed: nil before Closed or after a local
// Close, otherwise the transport, timeout or framing error.
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Pending returns the number of calls awaiting a response.
func (c *Connection) Pending() int { return c.calls.Pending() }

// Connect opens the transport. It returns nil immediately when already Open.
// A failed attempt leaves the connection Closed.
func (c *Connection) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	switch c.State() {
	case domain.StateOpen:
		return nil
	case domain.StateClosed:
		return domain.NewDomainError("Connection.Connect", domain.ErrAlreadyClosed, c.id)
	}

	c.state.Store(int32(domain.StateConnecting))
	c.logger.Debug("connecting")

	if err := c.transport.Connect(ctx, &events{c}); err != nil {
		if c.closing.Load() {
			// Close ran while the transport was still connecting.
			c.logger.Debug("connect aborted by close", "error", err)
			<-c.done
			return domain.ClosedError(c.Err())
		}
		c.teardown(err)
		c.logger.Warn("connect failed", "error", err)
		return domain.WrapOp("Connection.Connect", err)
	}
	if c.State() != domain.StateOpen {
		// Closed between the transport's connect event and here.
		return domain.ClosedError(c.Err())
	}
	c.logger.Info("connection open")
	return nil
}

// Go sends a request and returns its handle without waiting. The handle is
// already failed when the connection is not Open or the write fails.
func (c *Connection) Go(ctx context.Context, method string, params any) *correlator.Call {
	if c.State() != domain.StateOpen {
		return correlator.Failed(method, domain.NewDomainError("Connection.Go", domain.ErrNotConnected, method))
	}

	raw, err := jsonrpc.MarshalParams(params)
	if err != nil {
		return correlator.Failed(method, err)
	}

	call, err := c.calls.Register(method)
	if err != nil {
		return correlator.Failed(method, err)
	}

	frame, err := jsonrpc.EncodeRequest(domain.NewRequest(call.ID, method, raw))
	if err != nil {
		c.calls.Abandon(call.ID, err)
		return call
	}

	if err := c.transport.Write(ctx, frame); err != nil {
		c.logger.Warn("write failed", "method", method, "id", call.ID, "error", err)
		c.calls.Abandon(call.ID, err)
		c.teardown(err)
		return call
	}
	c.logger.Debug("request sent", "method", method, "id", call.ID)
	return call
}

// Request sends a request and waits for its result. When ctx ends first the
// call is abandoned and a late response is discarded.
func (c *Connection) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.Go(ctx, method, params).Wait(ctx)
}

// Subscribe registers handler for server notifications named method.
// Handlers run on the receive path in arrival order and must not block on
// responses from this connection.
func (c *Connection) Subscribe(method string, handler domain.NotificationHandler) func() {
	return c.notes.Subscribe(method, handler)
}

// Observe registers fn to see every notification, whatever its method.
func (c *Connection) Observe(fn func(method string, params json.RawMessage)) {
	c.notes.Observe(fn)
}

// Close ends the connection, fails every pending call with the closed
// error and releases the transport. Closing an Idle or Closed connection is
// a no-op.
func (c *Connection) Close() error {
	if c.State() == domain.StateIdle {
		return nil
	}
	c.teardown(nil)
	<-c.done
	return nil
}

// teardown moves to Closed exactly once. cause is nil for a local close.
// The transport may report its own close synchronously from inside
// transport.Close, re-entering here; the flag turns that into a no-op.
func (c *Connection) teardown(cause error) {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	prev := domain.ConnectionState(c.state.Swap(int32(domain.StateClosed)))
	c.err = cause

	if err := c.transport.Close(); err != nil {
		c.logger.Debug("transport close", "error", err)
	}
	n := c.calls.Flush(domain.ClosedError(cause))

	if cause != nil {
		c.logger.Warn("connection closed", "from", prev.String(), "error", cause, "failed_calls", n)
	} else {
		c.logger.Info("connection closed", "from", prev.String(), "failed_calls", n)
	}
	close(c.done)

	for _, fn := range c.onClose {
		fn(cause)
	}
}

// receive handles one chunk from the transport.
func (c *Connection) receive(chunk []byte) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.State() != domain.StateOpen {
		return
	}
	if err := c.framer.Feed(chunk, c.handleFrame); err != nil {
		c.logger.Error("stream desynchronized, closing", "error", err)
		c.teardown(err)
	}
}

func (c *Connection) handleFrame(frame []byte) error {
	// A frame may be the one that tore the connection down.
	if c.State() != domain.StateOpen {
		return nil
	}
	msg, err := jsonrpc.Classify(frame)
	if err != nil {
		return err
	}
	c.dispatch(msg)
	return nil
}

func (c *Connection) dispatch(msg domain.Message) {
	switch m := msg.(type) {
	case *domain.Response:
		c.calls.Resolve(m)
	case *domain.ResponseError:
		c.calls.Reject(m)
	case *domain.Notification:
		c.notes.Dispatch(m)
	case *domain.Batch:
		for _, entry := range m.Messages {
			c.dispatch(entry)
		}
	case *domain.Request:
		c.logger.Warn("dropping server request", "method", m.Method, "id", string(m.ID))
	case *domain.Unrecognized:
		c.logger.Debug("dropping unrecognized message", "raw", m.Raw)
	}
}

// events adapts transport callbacks onto the connection.
type events struct{ c *Connection }

func (e *events) OnConnect() {
	e.c.state.CompareAndSwap(int32(domain.StateConnecting), int32(domain.StateOpen))
}

func (e *events) OnRecv(chunk []byte) { e.c.receive(chunk) }

func (e *events) OnEnd() { e.c.logger.Debug("peer ended stream") }

func (e *events) OnError(err error) { e.c.logger.Debug("transport error", "error", err) }

func (e *events) OnClose(err error) {
	if err == nil {
		err = domain.ErrConnectionClosed
	}
	e.c.teardown(err)
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
