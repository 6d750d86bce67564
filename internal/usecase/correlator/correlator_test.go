package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linerpc/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawID(id uint64) json.RawMessage {
	return json.RawMessage(strconv.FormatUint(id, 10))
}

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	c := New(newTestLogger())
	for want := uint64(1); want <= 5; want++ {
		call, err := c.Register("m")
		require.NoError(t, err)
		assert.Equal(t, want, call.ID)
	}
	assert.Equal(t, 5, c.Pending())
}

func TestRegisterConcurrentIDsDistinct(t *testing.T) {
	c := New(newTestLogger())
	const n = 200

	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			call, err := c.Register("m")
			if err == nil {
				ids <- call.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var got []uint64
	for id := range ids {
		got = append(got, id)
	}
	require.Len(t, got, n)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, id := range got {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestResolveOutOfOrder(t *testing.T) {
	c := New(newTestLogger())
	first, _ := c.Register("a")
	second, _ := c.Register("b")

	assert.True(t, c.Resolve(&domain.Response{ID: rawID(second.ID), Result: json.RawMessage(`"B"`)}))
	select {
	case <-first.Done():
		t.Fatal("first call completed by second's response")
	default:
	}
	assert.True(t, c.Resolve(&domain.Response{ID: rawID(first.ID), Result: json.RawMessage(`"A"`)}))

	res, err := first.Result()
	require.NoError(t, err)
	assert.Equal(t, `"A"`, string(res))
	res, err = second.Result()
	require.NoError(t, err)
	assert.Equal(t, `"B"`, string(res))
	assert.Zero(t, c.Pending())
}

func TestResolveStringID(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("a")
	assert.True(t, c.Resolve(&domain.Response{ID: json.RawMessage(`"1"`), Result: json.RawMessage(`1`)}))
	_, err := call.Result()
	assert.NoError(t, err)
}

func TestRejectCarriesRPCError(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("no.such")

	ok := c.Reject(&domain.ResponseError{
		ID:    rawID(call.ID),
		Error: domain.RPCError{Code: -32601, Message: "Method not found"},
	})
	require.True(t, ok)

	res, err := call.Result()
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, "-32601: Method not found", err.Error())

	var rpcErr *domain.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestUnknownIDDiscarded(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("a")

	assert.False(t, c.Resolve(&domain.Response{ID: rawID(99), Result: json.RawMessage(`1`)}))
	assert.False(t, c.Resolve(&domain.Response{ID: json.RawMessage(`null`)}))
	assert.False(t, c.Reject(&domain.ResponseError{ID: json.RawMessage(`"x"`)}))
	assert.Equal(t, 1, c.Pending())

	select {
	case <-call.Done():
		t.Fatal("call completed by unrelated response")
	default:
	}
}

func TestDuplicateResponseIgnored(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("a")

	assert.True(t, c.Resolve(&domain.Response{ID: rawID(call.ID), Result: json.RawMessage(`1`)}))
	assert.False(t, c.Resolve(&domain.Response{ID: rawID(call.ID), Result: json.RawMessage(`2`)}))

	res, _ := call.Result()
	assert.Equal(t, `1`, string(res))
}

func TestFlushFailsAllPendingOnce(t *testing.T) {
	c := New(newTestLogger())
	const k = 7
	calls := make([]*Call, k)
	for i := range calls {
		calls[i], _ = c.Register("m")
	}

	cause := errors.New("reset by peer")
	closedErr := domain.ClosedError(cause)
	assert.Equal(t, k, c.Flush(closedErr))
	assert.Zero(t, c.Flush(closedErr))
	assert.Zero(t, c.Pending())

	for _, call := range calls {
		_, err := call.Result()
		assert.ErrorIs(t, err, domain.ErrConnectionClosed)
		assert.ErrorIs(t, err, cause)
	}

	// Late responses after teardown are discarded.
	assert.False(t, c.Resolve(&domain.Response{ID: rawID(calls[0].ID), Result: json.RawMessage(`1`)}))

	_, err := c.Register("after")
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestFlushNilErrorUsesClosed(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("m")
	c.Flush(nil)
	_, err := call.Result()
	assert.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestWaitTimeoutAbandons(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := call.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.CodeRequestTimeout, domain.ErrorCodeOf(err))
	assert.Zero(t, c.Pending())

	// The late response finds no entry.
	assert.False(t, c.Resolve(&domain.Response{ID: rawID(call.ID), Result: json.RawMessage(`1`)}))
}

func TestWaitCanceled(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("m")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Pending())
}

func TestWaitReturnsResult(t *testing.T) {
	c := New(newTestLogger())
	call, _ := c.Register("m")

	go c.Resolve(&domain.Response{ID: rawID(call.ID), Result: json.RawMessage(`"pong"`)})

	res, err := call.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"pong"`, string(res))
}

func TestConcurrentResolveAndFlushCompleteOnce(t *testing.T) {
	c := New(newTestLogger())
	const n = 100
	calls := make([]*Call, n)
	for i := range calls {
		calls[i], _ = c.Register("m")
	}

	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			c.Resolve(&domain.Response{ID: rawID(id), Result: json.RawMessage(`1`)})
		}(call.ID)
	}
	flushed := c.Flush(domain.ErrConnectionClosed)
	wg.Wait()

	resolved := 0
	for _, call := range calls {
		if _, err := call.Result(); err == nil {
			resolved++
		}
	}
	assert.Equal(t, n, resolved+flushed)
}

func TestFailedCall(t *testing.T) {
	call := Failed("m", domain.ErrNotConnected)
	select {
	case <-call.Done():
	default:
		t.Fatal("failed call should be done")
	}
	_, err := call.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}
