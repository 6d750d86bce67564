package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"linerpc/internal/domain"
)

// Socket is a TCP transport, optionally wrapped in TLS.
type Socket struct {
	addr   string
	useTLS bool
	opts   options

	connMu    sync.Mutex
	conn      net.Conn
	abortDial context.CancelFunc
	writeMu   sync.Mutex

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSocket creates a socket transport for addr ("host:port").
func NewSocket(addr string, useTLS bool, opts ...Option) *Socket {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Socket{addr: addr, useTLS: useTLS, opts: o}
}

// Connect implements domain.Transport.
func (s *Socket) Connect(ctx context.Context, events domain.TransportEvents) error {
	if !s.started.CompareAndSwap(false, true) {
		return domain.NewDomainError("Socket.Connect", domain.ErrAlreadyClosed, "socket already used")
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.connMu.Lock()
	s.abortDial = cancel
	s.connMu.Unlock()
	if s.closing.Load() {
		return errClosedWhileConnecting("Socket.Connect")
	}

	conn, err := s.dial(dialCtx)
	if err != nil {
		if s.closing.Load() {
			return errClosedWhileConnecting("Socket.Connect")
		}
		return err
	}
	s.tune(conn)

	s.connMu.Lock()
	if s.closing.Load() {
		s.connMu.Unlock()
		conn.Close()
		return errClosedWhileConnecting("Socket.Connect")
	}
	s.conn = conn
	s.connMu.Unlock()

	s.opts.logger.Debug("socket connected", "addr", s.addr, "tls", s.useTLS)
	events.OnConnect()

	go s.readLoop(conn, events)
	return nil
}

func (s *Socket) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   s.opts.connectTimeout,
		KeepAlive: s.opts.keepAlive,
	}

	var (
		conn net.Conn
		err  error
	)
	if s.useTLS {
		td := &tls.Dialer{NetDialer: dialer, Config: tlsConfigFor(s.opts.tlsConfig, s.addr)}
		conn, err = td.DialContext(ctx, "tcp", s.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.addr)
	}
	if err == nil {
		return conn, nil
	}

	if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, domain.NewSubSystemError("connect", "Socket.Connect", domain.ErrTimeout,
			fmt.Sprintf("%s not reachable within %s", s.addr, s.opts.connectTimeout))
	}
	return nil, fmt.Errorf("socket connect %s: %w", s.addr, err)
}

// tune disables Nagle so small request frames go out immediately.
func (s *Socket) tune(conn net.Conn) {
	raw := conn
	if tc, ok := conn.(*tls.Conn); ok {
		raw = tc.NetConn()
	}
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetNoDelay(true); err != nil {
		s.opts.logger.Debug("set nodelay failed", "error", err)
	}
	if s.opts.keepAlive >= 0 {
		if err := tcp.SetKeepAlive(true); err != nil {
			s.opts.logger.Debug("set keepalive failed", "error", err)
		}
	}
}

// Write implements domain.Transport. Writes are serialized; a frame is never
// interleaved with another.
func (s *Socket) Write(ctx context.Context, frame []byte) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil || s.closing.Load() {
		return domain.NewDomainError("Socket.Write", domain.ErrNotConnected, s.addr)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.opts.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return domain.WrapOp("Socket.Write", err)
	}

	if _, err := conn.Write(frame); err != nil {
		if isTimeout(err) {
			return domain.NewSubSystemError("transport", "Socket.Write", domain.ErrTimeout, "write deadline exceeded")
		}
		return domain.WrapOp("Socket.Write", err)
	}
	return nil
}

// Close implements domain.Transport. A dial in progress is aborted. Once
// connected, the read loop observes the close and delivers OnClose(nil) on
// its own goroutine.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.connMu.Lock()
		conn, abort := s.conn, s.abortDial
		s.connMu.Unlock()
		if abort != nil {
			abort()
		}
		if conn != nil {
			s.closeErr = conn.Close()
		}
	})
	return s.closeErr
}

func (s *Socket) readLoop(conn net.Conn, events domain.TransportEvents) {
	buf := make([]byte, readBufferSize)
	var cause error

	for {
		if s.opts.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.readTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			events.OnRecv(buf[:n])
		}
		if err == nil {
			continue
		}

		switch {
		case s.closing.Load():
			// Local close.
		case errors.Is(err, io.EOF):
			cause = io.EOF
			events.OnEnd()
		case isTimeout(err):
			cause = domain.NewSubSystemError("transport", "Socket.Read", domain.ErrTimeout,
				fmt.Sprintf("no data for %s", s.opts.readTimeout))
			events.OnError(cause)
		default:
			cause = domain.WrapOp("Socket.Read", err)
			events.OnError(cause)
		}
		break
	}

	s.Close()
	s.opts.logger.Debug("socket closed", "addr", s.addr, "cause", cause)
	events.OnClose(cause)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
