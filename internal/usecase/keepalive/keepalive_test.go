package keepalive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linerpc/internal/adapter/transport"
	"linerpc/internal/infra/config"
	"linerpc/internal/usecase/client"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRequester struct {
	mu      sync.Mutex
	methods []string
	err     error
	block   chan struct{}
	calls   atomic.Int32
}

func (c *countingRequester) Request(ctx context.Context, method string, _ any) (json.RawMessage, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.methods = append(c.methods, method)
	c.mu.Unlock()
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return json.RawMessage(`null`), c.err
}

func testConfig(interval time.Duration) config.KeepaliveConfig {
	return config.KeepaliveConfig{Enabled: true, Interval: interval, Method: "server.ping", Timeout: time.Second}
}

func TestPingerFires(t *testing.T) {
	r := &countingRequester{}
	p := New(r, testConfig(30*time.Millisecond), WithLogger(newTestLogger()))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Stop())

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.methods {
		assert.Equal(t, "server.ping", m)
	}
	assert.Equal(t, int64(r.calls.Load()), p.Sent())
}

func TestPingerStopHaltsPings(t *testing.T) {
	r := &countingRequester{}
	p := New(r, testConfig(20*time.Millisecond), WithLogger(newTestLogger()))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	after := r.calls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, r.calls.Load())

	// Stop is idempotent.
	assert.NoError(t, p.Stop())
}

func TestPingerContextCancelStopsPings(t *testing.T) {
	r := &countingRequester{}
	p := New(r, testConfig(20*time.Millisecond), WithLogger(newTestLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	defer p.Stop()
	cancel()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, r.calls.Load())
}

func TestPingerSkipsWhileInFlight(t *testing.T) {
	r := &countingRequester{block: make(chan struct{})}
	cfg := testConfig(10 * time.Millisecond)
	cfg.Timeout = 0
	p := New(r, cfg, WithLogger(newTestLogger()))

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), r.calls.Load(), "overlapping ticks must be skipped")
	close(r.block)
	require.NoError(t, p.Stop())
}

func TestPingCountsConsecutiveFailures(t *testing.T) {
	r := &countingRequester{err: errors.New("connection closed")}
	var seen []int
	p := New(r, testConfig(time.Hour),
		WithLogger(newTestLogger()),
		WithOnFailure(func(n int, err error) { seen = append(seen, n) }),
	)

	for i := 0; i < 3; i++ {
		assert.Error(t, p.Ping(context.Background()))
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 3, p.Failures())

	r.err = nil
	require.NoError(t, p.Ping(context.Background()))
	assert.Zero(t, p.Failures())
}

func TestPingOverConnection(t *testing.T) {
	fake := transport.NewFake()
	conn := client.New(fake, client.WithLogger(newTestLogger()))
	fake.OnWrite = func(frame []byte) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if json.Unmarshal(frame, &req) == nil && req.Method == "server.ping" {
			fake.InjectResponse(req.ID, "null")
		}
	}
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Close()

	p := New(conn, testConfig(time.Hour), WithLogger(newTestLogger()), WithParams([]any{}))
	require.NoError(t, p.Ping(context.Background()))
	require.Len(t, fake.Written(), 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"server.ping","params":[]}`, string(fake.Written()[0]))
}
