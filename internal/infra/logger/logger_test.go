package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"linerpc/internal/infra/config"
)

func TestNewJSONLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc.log")
	cfg := config.LoggerConfig{Level: "info", Format: "json", Output: path}

	log, closer, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("connection open", "conn_id", "01TEST")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, data)
	}
	if entry["msg"] != "connection open" {
		t.Errorf("msg = %q, want %q", entry["msg"], "connection open")
	}
	if entry["app"] != "linerpc" {
		t.Errorf("app = %q, want %q", entry["app"], "linerpc")
	}
	if entry["conn_id"] != "01TEST" {
		t.Errorf("conn_id = %q", entry["conn_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputTargets(t *testing.T) {
	tests := []struct {
		output string
		want   io.Writer
	}{
		{"stdout", os.Stdout},
		{"stderr", os.Stderr},
		{"", os.Stderr},
		{"discard", io.Discard},
		{"none", io.Discard},
	}
	for _, tt := range tests {
		w, closer, err := openOutput(tt.output)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", tt.output, err)
		}
		if w != tt.want {
			t.Errorf("openOutput(%q) returned unexpected writer %T", tt.output, w)
		}
		if err := closer(); err != nil {
			t.Errorf("closer(%q): %v", tt.output, err)
		}
	}
}

func TestOpenOutputFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc.log")

	for i := 0; i < 2; i++ {
		w, closer, err := openOutput(path)
		if err != nil {
			t.Fatalf("openOutput(file): %v", err)
		}
		if _, err := w.Write([]byte("line\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := closer(); err != nil {
			t.Fatalf("closer: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "line\nline\n" {
		t.Errorf("file content = %q", string(data))
	}
}

func TestOpenOutputInvalidPath(t *testing.T) {
	_, _, err := openOutput("/nonexistent/dir/log.txt")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestNewLoggerInvalidOutput(t *testing.T) {
	cfg := config.LoggerConfig{Level: "info", Format: "text", Output: "/nonexistent/dir/rpc.log"}
	_, _, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid output path")
	}
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc.log")
	log, closer, err := New(config.LoggerConfig{Level: "warn", Format: "text", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("should be filtered")
	log.Warn("should appear")
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(path)
	output := string(data)
	if strings.Contains(output, "should be filtered") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("warn message should appear at warn level")
	}
}

func TestLongValuesCapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc.log")
	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "json", Output: path, MaxValueBytes: 16})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	frame := json.RawMessage(`{"jsonrpc":"2.0","method":"blockchain.headers.subscribe","params":[]}`)
	long := strings.Repeat("x", 40)
	log.Debug(long, "raw", frame, "id", "7", "detail", long)
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, data)
	}
	want := fmt.Sprintf(`{"jsonrpc":"2.0"...(%d bytes)`, len(frame))
	if entry["raw"] != want {
		t.Errorf("raw = %q, want %q", entry["raw"], want)
	}
	if entry["detail"] != "xxxxxxxxxxxxxxxx...(40 bytes)" {
		t.Errorf("detail = %q", entry["detail"])
	}
	if entry["id"] != "7" {
		t.Errorf("short value changed: id = %q", entry["id"])
	}
	if entry["msg"] != long {
		t.Errorf("message should not be capped, got %q", entry["msg"])
	}
}

func TestCapDisabled(t *testing.T) {
	if capValues(0) != nil {
		t.Error("capValues(0) should return no hook")
	}
	a := capValues(4)(nil, slog.Any("raw", []byte("abcdefgh")))
	if got := a.Value.String(); got != "abcd...(8 bytes)" {
		t.Errorf("[]byte value = %q", got)
	}
}

func TestShortenKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; a cut at 2 would split it.
	if got := shorten("aé-tail", 2); got != "a...(8 bytes)" {
		t.Errorf("shorten = %q", got)
	}
}
