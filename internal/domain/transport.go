package domain

import (
	"context"
	"encoding/json"
)

// ConnectionState is the lifecycle state of a single connection instance.
type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportEvents receives transport lifecycle and data events. A transport
// delivers them one at a time, in arrival order, from a single goroutine.
type TransportEvents interface {
	// OnConnect fires once the transport is ready to carry frames.
	OnConnect()
	// OnRecv delivers a raw chunk. The slice is only valid during the call.
	OnRecv(chunk []byte)
	// OnEnd fires when the peer finished sending (EOF).
	OnEnd()
	// OnError reports a transport failure. Timeouts arrive already wrapped
	// in ErrTimeout.
	OnError(err error)
	// OnClose is always the last event. err is nil for a local close.
	OnClose(err error)
}

// Transport is a byte stream the connection runs over: a plain or TLS
// socket, a websocket, or a test double.
type Transport interface {
	// Connect opens the stream and starts delivering events. It returns once
	// OnConnect has fired, or with the error that prevented it.
	Connect(ctx context.Context, events TransportEvents) error
	// Write sends one complete outbound frame.
	Write(ctx context.Context, frame []byte) error
	// Close ends and destroys the stream. Safe to call more than once.
	Close() error
}

// Requester is the surface protocol method layers build on.
type Requester interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// NotificationHandler receives the params of a server notification.
type NotificationHandler func(params json.RawMessage)
