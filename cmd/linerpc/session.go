package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"linerpc/internal/adapter/transport"
	"linerpc/internal/domain"
	"linerpc/internal/infra/config"
	"linerpc/internal/infra/logger"
	"linerpc/internal/infra/tracer"
	"linerpc/internal/usecase/client"
	"linerpc/internal/usecase/guard"
	"linerpc/internal/usecase/keepalive"
)

// keepaliveMaxFailures closes the connection after this many missed pings.
const keepaliveMaxFailures = 3

// session is an open connection plus everything layered on top of it.
type session struct {
	conn      *client.Connection
	requester domain.Requester
	pinger    *keepalive.Pinger
	log       *slog.Logger
	cleanup   []func()
}

// Close tears the session down in reverse setup order.
func (s *session) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

// transportOptions maps the client and server config sections onto
// transport options.
func transportOptions(cfg *config.Config, log *slog.Logger) ([]transport.Option, error) {
	opts := []transport.Option{
		transport.WithConnectTimeout(cfg.Client.ConnectTimeout),
		transport.WithReadTimeout(cfg.Client.ReadTimeout),
		transport.WithWriteTimeout(cfg.Client.WriteTimeout),
		transport.WithKeepAlive(cfg.Client.KeepAlivePeriod),
		transport.WithPath(cfg.Server.Path),
		transport.WithAuthToken(cfg.Server.AuthToken),
		transport.WithLogger(log),
	}
	if cfg.Client.MaxFrameSize > 0 {
		opts = append(opts, transport.WithReadLimit(int64(cfg.Client.MaxFrameSize)))
	}
	if config.UsesTLS(cfg.Server.Protocol) {
		tlsCfg, err := cfg.Server.TLS.Build(cfg.Server.Host)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithTLSConfig(tlsCfg))
	}
	return opts, nil
}

// openSession connects to the configured server. The caller must Close the
// returned session.
func openSession(ctx context.Context, cfg *config.Config, log *slog.Logger) (*session, error) {
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	log = log.With("addr", addr, "protocol", cfg.Server.Protocol)

	opts, err := transportOptions(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	tr, err := transport.New(cfg.Server.Protocol, cfg.Server.Host, cfg.Server.Port, opts...)
	if err != nil {
		return nil, err
	}

	conn := client.New(tr,
		client.WithLogger(log),
		client.WithMaxFramesPerPass(cfg.Client.MaxFramesPerPass),
		client.WithMaxFrameSize(cfg.Client.MaxFrameSize),
	)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}

	s := &session{
		conn:      conn,
		requester: guard.Chain(conn, cfg.Guard, log),
		log:       log,
		cleanup:   []func(){func() { _ = conn.Close() }},
	}

	if cfg.Keepalive.Enabled {
		s.pinger = keepalive.New(conn, cfg.Keepalive,
			keepalive.WithLogger(log),
			keepalive.WithOnFailure(func(n int, err error) {
				if n >= keepaliveMaxFailures {
					log.Warn("keepalive failing, closing connection", "failures", n)
					_ = conn.Close()
				}
			}),
		)
		if err := s.pinger.Start(ctx); err != nil {
			s.Close()
			return nil, err
		}
		s.cleanup = append(s.cleanup, func() { _ = s.pinger.Stop() })
	}
	return s, nil
}

// setup loads config and builds the logger and tracer. The returned func
// releases them.
func setup(ctx context.Context, flags cliFlags) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = logCloser()
		return nil, nil, nil, fmt.Errorf("tracer: %w", err)
	}

	release := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
		_ = logCloser()
	}
	return cfg, log, release, nil
}

// runCall sends one request and prints its result.
func runCall(ctx context.Context, flags cliFlags, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: linerpc call METHOD [PARAMS]")
	}
	method := args[0]
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}

	cfg, log, release, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer release()

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.requester.Request(ctx, method, paramsOrNil(params))
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

// runWatch calls a subscribe method, prints its result and then every
// notification for the watched method until ctx ends or the connection drops.
func runWatch(ctx context.Context, flags cliFlags, args []string, out io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: linerpc watch METHOD [PARAMS]")
	}
	method := args[0]
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	notifyMethod := flags.Notify
	if notifyMethod == "" {
		notifyMethod = method
	}

	cfg, log, release, err := setup(ctx, flags)
	if err != nil {
		return err
	}
	defer release()

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	var outMu sync.Mutex
	unsubscribe := s.conn.Subscribe(notifyMethod, func(params json.RawMessage) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := printJSON(out, params); err != nil {
			log.Warn("write notification", "error", err)
		}
	})
	defer unsubscribe()

	result, err := s.requester.Request(ctx, method, paramsOrNil(params))
	if err != nil {
		return err
	}
	outMu.Lock()
	err = printJSON(out, result)
	outMu.Unlock()
	if err != nil {
		return err
	}

	log.Info("watching", "method", notifyMethod)
	select {
	case <-ctx.Done():
		return nil
	case <-s.conn.Done():
		if err := s.conn.Err(); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		return nil
	}
}

// paramsOrNil keeps a nil RawMessage from reaching the encoder as "null".
func paramsOrNil(p json.RawMessage) any {
	if p == nil {
		return nil
	}
	return p
}
