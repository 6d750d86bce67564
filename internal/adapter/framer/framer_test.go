package framer

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linerpc/internal/domain"
)

// collect feeds every chunk and returns the frames produced, as strings.
func collect(t *testing.T, f *Framer, chunks ...string) []string {
	t.Helper()
	var frames []string
	for _, c := range chunks {
		err := f.Feed([]byte(c), func(frame []byte) error {
			frames = append(frames, string(frame))
			return nil
		})
		require.NoError(t, err)
	}
	return frames
}

func TestFeedMultipleFramesInOneChunk(t *testing.T) {
	f := New()
	frames := collect(t, f, "a\nb\nc\n")
	assert.Equal(t, []string{"a", "b", "c"}, frames)
	assert.Equal(t, 0, f.Buffered())
}

func TestFeedNoDelimiterBuffers(t *testing.T) {
	f := New()
	frames := collect(t, f, `{"id":1,`)
	assert.Empty(t, frames)
	assert.Equal(t, len(`{"id":1,`), f.Buffered())

	frames = collect(t, f, `"result":2}`+"\n")
	assert.Equal(t, []string{`{"id":1,"result":2}`}, frames)
	assert.Equal(t, 0, f.Buffered())
}

func TestFeedOnlyDelimiterYieldsEmptyFrame(t *testing.T) {
	f := New()
	frames := collect(t, f, "\n")
	assert.Equal(t, []string{""}, frames)
}

func TestFeedSplitMidFrame(t *testing.T) {
	f := New()
	frames := collect(t, f, `{"id":1,"resu`, `lt":"ok"}`+"\n")
	assert.Equal(t, []string{`{"id":1,"result":"ok"}`}, frames)
}

func TestFeedKeepsTrailingPartial(t *testing.T) {
	f := New()
	frames := collect(t, f, "one\ntw")
	assert.Equal(t, []string{"one"}, frames)
	assert.Equal(t, 2, f.Buffered())

	frames = collect(t, f, "o\nthree\n")
	assert.Equal(t, []string{"two", "three"}, frames)
}

func TestFeedChunkBoundaryInsensitive(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&sb, `{"id":%d,"result":"%s"}`+"\n", i+1, strings.Repeat("x", i%7))
	}
	sb.WriteString(`{"partial":`)
	input := sb.String()

	whole := collect(t, New(WithMaxFramesPerPass(4)), input)
	require.Len(t, whole, 60)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		var chunks []string
		rest := input
		for len(rest) > 0 {
			n := 1 + rng.Intn(40)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := collect(t, New(WithMaxFramesPerPass(4)), chunks...)
		assert.Equal(t, whole, got, "trial %d", trial)
	}
}

func TestFeedEveryBytePosition(t *testing.T) {
	input := "alpha\nbeta\n\ngamma\n"
	want := collect(t, New(), input)
	for i := 0; i <= len(input); i++ {
		got := collect(t, New(), input[:i], input[i:])
		assert.Equal(t, want, got, "split at %d", i)
	}
}

func TestFeedSuspendsAndResumes(t *testing.T) {
	f := New(WithMaxFramesPerPass(3))
	input := strings.Repeat("f\n", 50)

	frames := collect(t, f, input)
	assert.Len(t, frames, 50)
	assert.Greater(t, f.Suspensions(), 0)
}

func TestFeedNoSuspensionBelowBound(t *testing.T) {
	f := New()
	collect(t, f, strings.Repeat("f\n", DefaultMaxFramesPerPass-1))
	assert.Equal(t, 0, f.Suspensions())
}

func TestFeedCallbackErrorAborts(t *testing.T) {
	f := New()
	var seen []string
	bad := errors.New("boom")
	err := f.Feed([]byte("ok\nbad\nnever\n"), func(frame []byte) error {
		seen = append(seen, string(frame))
		if string(frame) == "bad" {
			return bad
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, bad)
	assert.ErrorIs(t, err, domain.ErrFrameParse)
	assert.Equal(t, []string{"ok", "bad"}, seen)
	assert.Equal(t, 0, f.Buffered())

	var fe *domain.FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bad", string(fe.Frame))
}

func TestFeedFrameErrorPassedThrough(t *testing.T) {
	f := New()
	want := &domain.FrameError{Frame: []byte("x"), Err: errors.New("json")}
	err := f.Feed([]byte("x\n"), func([]byte) error { return want })
	assert.Same(t, want, err)
}

func TestFeedMaxFrameSize(t *testing.T) {
	f := New(WithMaxFrameSize(8))

	frames := collect(t, f, "short\n")
	assert.Equal(t, []string{"short"}, frames)

	err := f.Feed([]byte("muchtoolong\n"), func([]byte) error { return nil })
	assert.ErrorIs(t, err, domain.ErrFrameTooLarge)

	f = New(WithMaxFrameSize(8))
	err = f.Feed([]byte("0123456789"), func([]byte) error { return nil })
	assert.ErrorIs(t, err, domain.ErrFrameTooLarge)
	assert.Equal(t, 0, f.Buffered())
}

func TestFeedDoesNotRetainCallerChunk(t *testing.T) {
	f := New()
	chunk := []byte("abc")
	collectFn := func([]byte) error { return nil }
	require.NoError(t, f.Feed(chunk, collectFn))

	copy(chunk, "zzz")
	frames := collect(t, f, "\n")
	assert.Equal(t, []string{"abc"}, frames)
}

func TestCustomDelimiter(t *testing.T) {
	f := New(WithDelimiter(0))
	frames := collect(t, f, "a\x00b\x00")
	assert.Equal(t, []string{"a", "b"}, frames)
}

func TestReset(t *testing.T) {
	f := New()
	collect(t, f, "partial")
	f.Reset()
	assert.Equal(t, 0, f.Buffered())
	frames := collect(t, f, "next\n")
	assert.Equal(t, []string{"next"}, frames)
}
