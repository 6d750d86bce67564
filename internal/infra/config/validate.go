package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateClient(cfg, ve)
	validateGuard(cfg, ve)
	validateKeepalive(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProtocols = map[string]bool{
	"tcp": true,
	"tls": true,
	"ssl": true,
	"ws":  true,
	"wss": true,
}

// UsesTLS reports whether protocol runs over TLS.
func UsesTLS(protocol string) bool {
	switch strings.ToLower(protocol) {
	case "tls", "ssl", "wss":
		return true
	}
	return false
}

func validateServer(cfg *Config, ve *ValidationError) {
	s := cfg.Server
	if s.Host == "" {
		ve.Add("server.host must not be empty")
	}
	if s.Port <= 0 || s.Port > 65535 {
		ve.Add("server.port %d out of range 1-65535", s.Port)
	}
	if !validProtocols[strings.ToLower(s.Protocol)] {
		ve.Add("server.protocol %q is not one of tcp, tls, ssl, ws, wss", s.Protocol)
	}
	if strings.HasPrefix(s.AuthToken, "enc:") {
		ve.Add("server.auth_token is encrypted but LINERPC_CONFIG_KEY is not set")
	}

	t := s.TLS
	hasTLSSettings := t.ServerName != "" || t.CAFile != "" || t.CertFile != "" || t.KeyFile != "" || t.InsecureSkipVerify
	if hasTLSSettings && !UsesTLS(s.Protocol) {
		ve.Add("server.tls is set but protocol %q does not use TLS", s.Protocol)
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		ve.Add("server.tls.cert_file and server.tls.key_file must be set together")
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if c.ConnectTimeout <= 0 {
		ve.Add("client.connect_timeout must be > 0")
	}
	if c.ReadTimeout < 0 {
		ve.Add("client.read_timeout must be >= 0")
	}
	if c.WriteTimeout <= 0 {
		ve.Add("client.write_timeout must be > 0")
	}
	if c.MaxFramesPerPass <= 0 {
		ve.Add("client.max_frames_per_pass must be > 0")
	}
	if c.MaxFrameSize < 0 {
		ve.Add("client.max_frame_size must be >= 0")
	}
}

func validateGuard(cfg *Config, ve *ValidationError) {
	g := cfg.Guard
	if g.RequestTimeout < 0 {
		ve.Add("guard.request_timeout must be >= 0")
	}
	if g.Breaker.Enabled {
		if g.Breaker.MaxFailures == 0 {
			ve.Add("guard.breaker.max_failures must be > 0 when the breaker is enabled")
		}
		if g.Breaker.Timeout <= 0 {
			ve.Add("guard.breaker.timeout must be > 0 when the breaker is enabled")
		}
	}
	if g.RateLimit.Enabled {
		if g.RateLimit.RequestsPerSecond <= 0 {
			ve.Add("guard.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if g.RateLimit.Burst <= 0 {
			ve.Add("guard.rate_limit.burst must be > 0 when rate limiting is enabled")
		}
	}
}

func validateKeepalive(cfg *Config, ve *ValidationError) {
	k := cfg.Keepalive
	if !k.Enabled {
		return
	}
	if k.Interval < time.Second {
		ve.Add("keepalive.interval must be >= 1s")
	}
	if k.Method == "" {
		ve.Add("keepalive.method must not be empty when keepalive is enabled")
	}
	if k.Timeout < 0 {
		ve.Add("keepalive.timeout must be >= 0")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Logger.Format)] {
		ve.Add("logger.format %q is not one of json, text", cfg.Logger.Format)
	}
	if cfg.Logger.MaxValueBytes < 0 {
		ve.Add("logger.max_value_bytes must be >= 0")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not one of noop, stdout", cfg.Tracer.Exporter)
	}
}
