package config

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func expectValidationError(t *testing.T, cfg *Config, field string) {
	t.Helper()
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error mentioning %q", field)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if !strings.Contains(err.Error(), field) {
		t.Errorf("error %q does not mention %q", err.Error(), field)
	}
}

func TestValidateServer(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Host = ""
	expectValidationError(t, cfg, "server.host")

	cfg = Defaults()
	cfg.Server.Port = 70000
	expectValidationError(t, cfg, "server.port")

	cfg = Defaults()
	cfg.Server.Protocol = "quic"
	expectValidationError(t, cfg, "server.protocol")
}

func TestValidateProtocolsCaseInsensitive(t *testing.T) {
	for _, p := range []string{"tcp", "TLS", "ssl", "ws", "WSS"} {
		cfg := Defaults()
		cfg.Server.Protocol = p
		if err := Validate(cfg); err != nil {
			t.Errorf("protocol %q: %v", p, err)
		}
	}
}

func TestValidateTLSWithPlainProtocol(t *testing.T) {
	cfg := Defaults()
	cfg.Server.TLS.InsecureSkipVerify = true
	expectValidationError(t, cfg, "server.tls")

	cfg.Server.Protocol = "ssl"
	if err := Validate(cfg); err != nil {
		t.Errorf("tls settings with ssl should validate: %v", err)
	}
}

func TestValidateCertKeyPair(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Protocol = "tls"
	cfg.Server.TLS.CertFile = "client.pem"
	expectValidationError(t, cfg, "key_file")
}

func TestValidateClient(t *testing.T) {
	cfg := Defaults()
	cfg.Client.ConnectTimeout = 0
	expectValidationError(t, cfg, "client.connect_timeout")

	cfg = Defaults()
	cfg.Client.MaxFramesPerPass = 0
	expectValidationError(t, cfg, "client.max_frames_per_pass")

	cfg = Defaults()
	cfg.Client.MaxFrameSize = -1
	expectValidationError(t, cfg, "client.max_frame_size")
}

func TestValidateGuard(t *testing.T) {
	cfg := Defaults()
	cfg.Guard.Breaker.Enabled = true
	cfg.Guard.Breaker.MaxFailures = 0
	expectValidationError(t, cfg, "guard.breaker.max_failures")

	cfg = Defaults()
	cfg.Guard.RateLimit.Enabled = true
	cfg.Guard.RateLimit.Burst = 0
	expectValidationError(t, cfg, "guard.rate_limit.burst")

	// Disabled sections are not checked.
	cfg = Defaults()
	cfg.Guard.RateLimit.Burst = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled rate limit should not be validated: %v", err)
	}
}

func TestValidateKeepalive(t *testing.T) {
	cfg := Defaults()
	cfg.Keepalive.Enabled = true
	cfg.Keepalive.Interval = 100 * time.Millisecond
	expectValidationError(t, cfg, "keepalive.interval")

	cfg = Defaults()
	cfg.Keepalive.Enabled = true
	cfg.Keepalive.Method = ""
	expectValidationError(t, cfg, "keepalive.method")
}

func TestValidateLoggerAndTracer(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "verbose"
	expectValidationError(t, cfg, "logger.level")

	cfg = Defaults()
	cfg.Logger.Format = "xml"
	expectValidationError(t, cfg, "logger.format")

	cfg = Defaults()
	cfg.Logger.MaxValueBytes = -1
	expectValidationError(t, cfg, "logger.max_value_bytes")

	cfg = Defaults()
	cfg.Tracer.Exporter = "jaeger"
	expectValidationError(t, cfg, "tracer.exporter")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Host = ""
	cfg.Client.WriteTimeout = 0
	cfg.Logger.Level = "loud"

	var ve *ValidationError
	if !errors.As(Validate(cfg), &ve) {
		t.Fatal("expected *ValidationError")
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestUsesTLS(t *testing.T) {
	tests := map[string]bool{"tcp": false, "tls": true, "SSL": true, "ws": false, "wss": true, "": false}
	for p, want := range tests {
		if got := UsesTLS(p); got != want {
			t.Errorf("UsesTLS(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestTLSBuildDefaults(t *testing.T) {
	cfg, err := TLSConfig{}.Build("node.example.org")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cfg.ServerName != "node.example.org" {
		t.Errorf("ServerName = %q", cfg.ServerName)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if cfg.RootCAs != nil || len(cfg.Certificates) != 0 {
		t.Error("no CA or client certificate expected")
	}
}

func TestTLSBuildCAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caPath, data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := TLSConfig{CAFile: caPath, ServerName: "override"}.Build("ignored")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("RootCAs should be set")
	}
	if cfg.ServerName != "override" {
		t.Errorf("ServerName = %q, want override", cfg.ServerName)
	}
}

func TestTLSBuildBadFiles(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.pem")
	if err := os.WriteFile(junk, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := (TLSConfig{CAFile: filepath.Join(dir, "missing.pem")}).Build("h"); err == nil {
		t.Error("expected error for missing ca_file")
	}
	if _, err := (TLSConfig{CAFile: junk}).Build("h"); err == nil {
		t.Error("expected error for ca_file without PEM")
	}
	if _, err := (TLSConfig{CertFile: junk, KeyFile: junk}).Build("h"); err == nil {
		t.Error("expected error for bad client key pair")
	}
}
