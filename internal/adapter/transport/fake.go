package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"linerpc/internal/domain"
)

// Fake is an in-memory transport for tests and offline tooling. Inbound
// bytes are injected by the caller; outbound frames are recorded.
//
// Events are delivered on the goroutine that calls Inject, End, Fail or
// CloseRemote; callers keep those sequential. Local Close delivers
// OnClose(nil) synchronously.
type Fake struct {
	// ConnectErr, when set, makes Connect fail with it.
	ConnectErr error
	// WriteErr, when set, makes every Write fail with it.
	WriteErr error
	// OnWrite, when set, is called with each written frame after it is
	// recorded. Use it to script server replies.
	OnWrite func(frame []byte)

	mu      sync.Mutex
	events  domain.TransportEvents
	written [][]byte
	open    bool
	closed  bool
}

// NewFake creates a Fake.
func NewFake() *Fake { return &Fake{} }

// Connect implements domain.Transport.
func (f *Fake) Connect(ctx context.Context, events domain.TransportEvents) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	if f.closed || f.events != nil {
		f.mu.Unlock()
		return domain.NewDomainError("Fake.Connect", domain.ErrAlreadyClosed, "fake already used")
	}
	f.events = events
	f.open = true
	f.mu.Unlock()

	f.deliver(func(ev domain.TransportEvents) { ev.OnConnect() })
	return nil
}

// Write implements domain.Transport.
func (f *Fake) Write(_ context.Context, frame []byte) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return domain.NewDomainError("Fake.Write", domain.ErrNotConnected, "")
	}
	if f.WriteErr != nil {
		err := f.WriteErr
		f.mu.Unlock()
		return err
	}
	f.written = append(f.written, bytes.Clone(frame))
	hook := f.OnWrite
	f.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return nil
}

// Close implements domain.Transport.
func (f *Fake) Close() error {
	f.shutdown(nil)
	return nil
}

// Inject delivers data as one received chunk. It is a no-op once the
// transport is closed.
func (f *Fake) Inject(data []byte) {
	f.mu.Lock()
	open := f.open
	f.mu.Unlock()
	if !open {
		return
	}
	f.deliver(func(ev domain.TransportEvents) { ev.OnRecv(data) })
}

// InjectResponse delivers a response for id carrying result, encoded as a
// single frame.
func (f *Fake) InjectResponse(id uint64, result string) {
	f.Inject([]byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`+"\n", id, result)))
}

// End simulates the peer closing its write side.
func (f *Fake) End() {
	f.deliver(func(ev domain.TransportEvents) { ev.OnEnd() })
	f.shutdown(io.EOF)
}

// Fail simulates a transport error followed by close.
func (f *Fake) Fail(err error) {
	f.deliver(func(ev domain.TransportEvents) { ev.OnError(err) })
	f.shutdown(err)
}

// CloseRemote simulates the peer dropping the connection without a
// preceding end or error event.
func (f *Fake) CloseRemote(err error) {
	f.shutdown(err)
}

// Written returns a copy of every frame written so far.
func (f *Fake) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

// Closed reports whether the transport has been closed.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) shutdown(cause error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	wasOpen := f.open
	f.open = false
	f.mu.Unlock()

	if wasOpen {
		f.deliver(func(ev domain.TransportEvents) { ev.OnClose(cause) })
	}
}

func (f *Fake) deliver(fn func(domain.TransportEvents)) {
	f.mu.Lock()
	ev := f.events
	f.mu.Unlock()
	if ev == nil {
		return
	}
	fn(ev)
}
