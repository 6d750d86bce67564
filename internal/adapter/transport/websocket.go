package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"linerpc/internal/domain"
)

// WebSocket carries line-delimited JSON-RPC over WebSocket text messages.
// Each outbound frame is one message; inbound messages are handed to the
// receiver as chunks with a delimiter appended when the server omits it, so
// the framer sees the same byte stream a socket would produce.
type WebSocket struct {
	url  string
	opts options

	connMu    sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	abortDial context.CancelFunc

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewWebSocket creates a WebSocket transport for baseURL ("ws://host:port"
// or "wss://host:port"); the configured path is appended.
func NewWebSocket(baseURL string, opts ...Option) *WebSocket {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	path := o.path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &WebSocket{url: strings.TrimSuffix(baseURL, "/") + path, opts: o}
}

// Connect implements domain.Transport.
func (w *WebSocket) Connect(ctx context.Context, events domain.TransportEvents) error {
	if !w.started.CompareAndSwap(false, true) {
		return domain.NewDomainError("WebSocket.Connect", domain.ErrAlreadyClosed, "websocket already used")
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.opts.connectTimeout)
	defer cancel()
	w.connMu.Lock()
	w.abortDial = cancel
	w.connMu.Unlock()
	if w.closing.Load() {
		return errClosedWhileConnecting("WebSocket.Connect")
	}

	dialOpts := &websocket.DialOptions{}
	if strings.HasPrefix(w.url, "wss://") && w.opts.tlsConfig != nil {
		dialOpts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: w.opts.tlsConfig},
		}
	}
	if w.opts.authToken != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + w.opts.authToken}}
	}

	conn, _, err := websocket.Dial(dialCtx, w.url, dialOpts)
	if err != nil {
		if w.closing.Load() {
			return errClosedWhileConnecting("WebSocket.Connect")
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return domain.NewSubSystemError("connect", "WebSocket.Connect", domain.ErrTimeout,
				fmt.Sprintf("%s not reachable within %s", w.url, w.opts.connectTimeout))
		}
		return fmt.Errorf("websocket connect %s: %w", w.url, err)
	}
	if w.opts.readLimit > 0 {
		conn.SetReadLimit(w.opts.readLimit)
	}

	readCtx, readCancel := context.WithCancel(context.Background())

	w.connMu.Lock()
	if w.closing.Load() {
		w.connMu.Unlock()
		readCancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return errClosedWhileConnecting("WebSocket.Connect")
	}
	w.conn = conn
	w.cancel = readCancel
	w.connMu.Unlock()

	w.opts.logger.Debug("websocket connected", "url", w.url)
	events.OnConnect()

	go w.readLoop(readCtx, conn, events)
	return nil
}

// Write implements domain.Transport. nhooyr's Conn serializes writers.
func (w *WebSocket) Write(ctx context.Context, frame []byte) error {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil || w.closing.Load() {
		return domain.NewDomainError("WebSocket.Write", domain.ErrNotConnected, w.url)
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.opts.writeTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		if errors.Is(writeCtx.Err(), context.DeadlineExceeded) {
			return domain.NewSubSystemError("transport", "WebSocket.Write", domain.ErrTimeout, "write deadline exceeded")
		}
		return domain.WrapOp("WebSocket.Write", err)
	}
	return nil
}

// Close implements domain.Transport.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closing.Store(true)
		w.connMu.Lock()
		conn, cancel, abort := w.conn, w.cancel, w.abortDial
		w.connMu.Unlock()
		if abort != nil {
			abort()
		}
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
	})
	return nil
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn, events domain.TransportEvents) {
	var cause error
	for {
		readCtx := ctx
		var cancel context.CancelFunc = func() {}
		if w.opts.readTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, w.opts.readTimeout)
		}
		_, data, err := conn.Read(readCtx)
		timedOut := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			if len(data) == 0 || data[len(data)-1] != '\n' {
				data = append(data, '\n')
			}
			events.OnRecv(data)
			continue
		}

		switch status := websocket.CloseStatus(err); {
		case w.closing.Load():
		case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
			cause = fmt.Errorf("websocket closed by server: %w", err)
			events.OnEnd()
		case timedOut:
			cause = domain.NewSubSystemError("transport", "WebSocket.Read", domain.ErrTimeout,
				fmt.Sprintf("no data for %s", w.opts.readTimeout))
			events.OnError(cause)
		default:
			cause = domain.WrapOp("WebSocket.Read", err)
			events.OnError(cause)
		}
		break
	}

	w.Close()
	w.opts.logger.Debug("websocket closed", "url", w.url, "cause", cause)
	events.OnClose(cause)
}
