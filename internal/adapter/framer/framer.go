// Package framer splits a byte stream into delimiter-bounded frames.
//
// Frames may arrive split across any number of chunks; the trailing partial
// frame is buffered until its delimiter shows up. Each Feed call handles at
// most a fixed number of frames per pass, then suspends and resumes on the
// remainder, so adversarially large chunks never cause unbounded work per
// step while no frame is ever dropped.
package framer

import (
	"bytes"
	"errors"
	"fmt"

	"linerpc/internal/domain"
)

// Defaults.
const (
	DefaultDelimiter        byte = '\n'
	DefaultMaxFramesPerPass      = 20
)

// FrameFunc receives one complete frame, without its delimiter. The slice is
// only valid for the duration of the call. Returning an error aborts the
// rest of the input.
type FrameFunc func(frame []byte) error

// Option configures a Framer.
type Option func(*Framer)

// WithDelimiter overrides the frame delimiter.
func WithDelimiter(d byte) Option {
	return func(f *Framer) { f.delim = d }
}

// WithMaxFramesPerPass bounds how many frames one pass may emit before
// suspending. Values < 1 are ignored.
func WithMaxFramesPerPass(n int) Option {
	return func(f *Framer) {
		if n > 0 {
			f.maxFrames = n
		}
	}
}

// WithMaxFrameSize rejects frames (complete or still buffered) longer than n
// bytes. Zero disables the limit.
func WithMaxFrameSize(n int) Option {
	return func(f *Framer) {
		if n >= 0 {
			f.maxSize = n
		}
	}
}

type passStatus int

const (
	passDone passStatus = iota
	passSuspend
	passAbort
)

// Framer is not safe for concurrent use; a connection feeds it from its
// single receive goroutine.
type Framer struct {
	delim     byte
	maxFrames int
	maxSize   int

	buf         []byte
	suspensions int
}

// New creates a Framer.
func New(opts ...Option) *Framer {
	f := &Framer{
		delim:     DefaultDelimiter,
		maxFrames: DefaultMaxFramesPerPass,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Feed appends chunk to the buffered partial frame and calls fn for every
// complete frame, in arrival order, before returning. A chunk holding only
// the delimiter yields one empty frame.
//
// On error the buffered input is discarded: once a frame is rejected the
// delimiter alignment of the stream can no longer be trusted.
func (f *Framer) Feed(chunk []byte, fn FrameFunc) error {
	stash := f.buf
	data := chunk
	if len(stash) > 0 {
		data = append(stash, chunk...)
	}

	for {
		status, rest, err := f.pass(data, fn)
		switch status {
		case passAbort:
			f.buf = nil
			return err
		case passSuspend:
			f.suspensions++
			data = rest
			continue
		}

		if f.maxSize > 0 && len(rest) > f.maxSize {
			f.buf = nil
			return domain.NewSubSystemError("framer", "Framer.Feed", domain.ErrFrameTooLarge,
				fmt.Sprintf("%d bytes buffered without delimiter, limit %d", len(rest), f.maxSize))
		}
		f.buf = append(stash[:0], rest...)
		return nil
	}
}

// pass emits up to maxFrames frames from data and reports what is left.
func (f *Framer) pass(data []byte, fn FrameFunc) (passStatus, []byte, error) {
	for depth := 0; ; depth++ {
		if len(data) == 0 {
			return passDone, data, nil
		}
		if depth >= f.maxFrames {
			return passSuspend, data, nil
		}
		i := bytes.IndexByte(data, f.delim)
		if i < 0 {
			return passDone, data, nil
		}

		frame := data[:i]
		if f.maxSize > 0 && len(frame) > f.maxSize {
			return passAbort, data, domain.NewSubSystemError("framer", "Framer.Feed", domain.ErrFrameTooLarge,
				fmt.Sprintf("frame of %d bytes, limit %d", len(frame), f.maxSize))
		}
		if err := fn(frame); err != nil {
			return passAbort, data, asFrameError(frame, err)
		}
		data = data[i+1:]
	}
}

func asFrameError(frame []byte, err error) error {
	if errors.Is(err, domain.ErrFrameParse) {
		return err
	}
	return &domain.FrameError{Frame: bytes.Clone(frame), Err: err}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Suspensions returns how many times a pass hit the per-pass frame bound and
// resumed on the remainder.
func (f *Framer) Suspensions() int { return f.suspensions }

// Reset drops any buffered partial frame.
func (f *Framer) Reset() { f.buf = nil }
