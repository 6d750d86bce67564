// Package transport provides byte-stream transports for the connection
// runtime: plain TCP, TLS over TCP, WebSocket, and an in-memory fake.
package transport

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"linerpc/internal/domain"
)

// Protocol identifiers accepted by New. "ssl" is an alias of "tls".
const (
	ProtocolTCP = "tcp"
	ProtocolTLS = "tls"
	ProtocolSSL = "ssl"
	ProtocolWS  = "ws"
	ProtocolWSS = "wss"
)

// Defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	readBufferSize        = 64 * 1024
)

type options struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	keepAlive      time.Duration
	tlsConfig      *tls.Config
	path           string
	readLimit      int64
	authToken      string
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		connectTimeout: DefaultConnectTimeout,
		writeTimeout:   DefaultWriteTimeout,
		path:           "/",
		logger:         slog.Default(),
	}
}

// Option configures a transport.
type Option func(*options)

// WithConnectTimeout bounds the time from dial to established connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithReadTimeout fails the connection when no data arrives for d. Zero
// disables the idle timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithKeepAlive sets the TCP keep-alive period. Zero uses the system
// default, a negative value disables keep-alive probes.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) { o.keepAlive = d }
}

// WithTLSConfig sets the TLS configuration for tls, ssl and wss.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithPath sets the HTTP path used by WebSocket transports.
func WithPath(p string) Option {
	return func(o *options) {
		if p != "" {
			o.path = p
		}
	}
}

// WithReadLimit caps a single inbound WebSocket message.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithAuthToken sends token as a bearer Authorization header on the
// WebSocket handshake. Socket transports ignore it.
func WithAuthToken(token string) Option {
	return func(o *options) { o.authToken = token }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds the transport for protocol, dialing host:port once Connect is
// called. Unknown protocols fail with domain.ErrUnknownProtocol.
func New(protocol, host string, port int, opts ...Option) (domain.Transport, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	switch strings.ToLower(protocol) {
	case ProtocolTCP:
		return NewSocket(addr, false, opts...), nil
	case ProtocolTLS, ProtocolSSL:
		return NewSocket(addr, true, opts...), nil
	case ProtocolWS:
		return NewWebSocket("ws://"+addr, opts...), nil
	case ProtocolWSS:
		return NewWebSocket("wss://"+addr, opts...), nil
	default:
		return nil, domain.NewDomainError("transport.New", domain.ErrUnknownProtocol, fmt.Sprintf("%q", protocol))
	}
}

// tlsConfigFor returns cfg, or a default client config for host when unset.
func tlsConfigFor(cfg *tls.Config, addr string) *tls.Config {
	if cfg != nil {
		return cfg
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: host,
	}
}

func errClosedWhileConnecting(op string) error {
	return domain.NewDomainError(op, domain.ErrConnectionClosed, "closed while connecting")
}
