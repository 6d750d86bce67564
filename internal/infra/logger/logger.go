// Package logger builds the slog logger shared by the CLI and the client
// runtime from the logger config section.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"linerpc/internal/infra/config"
)

// New creates a configured *slog.Logger.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: capValues(cfg.MaxValueBytes),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler).With("app", "linerpc"), closer, nil
}

// capValues returns a ReplaceAttr hook that cuts string and raw JSON
// attribute values to limit bytes, noting the original size. The record
// message is never cut. limit <= 0 disables the hook.
func capValues(limit int) func(groups []string, a slog.Attr) slog.Attr {
	if limit <= 0 {
		return nil
	}
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.MessageKey {
			return a
		}
		switch v := a.Value.Any().(type) {
		case string:
			if len(v) > limit {
				a.Value = slog.StringValue(shorten(v, limit))
			}
		case json.RawMessage:
			if len(v) > limit {
				a.Value = slog.StringValue(shorten(string(v), limit))
			}
		case []byte:
			if len(v) > limit {
				a.Value = slog.StringValue(shorten(string(v), limit))
			}
		}
		return a
	}
}

// shorten cuts s to at most limit bytes without splitting a UTF-8 sequence.
func shorten(s string, limit int) string {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:cut], len(s))
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openOutput resolves the output setting: stdout, stderr (the default so
// `call` results on stdout stay clean), discard, or an append-only file.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	case "discard", "none":
		return io.Discard, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
