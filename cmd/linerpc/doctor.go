package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"linerpc/internal/domain"
	"linerpc/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const doctorTimeout = 10 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor(flags cliFlags, out io.Writer) error {
	cfgPath := configPath(flags)

	// Some checks work without a loaded config.
	cfg, cfgErr := loadConfig(flags)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Server address", Fn: checkServerAddress},
		{Name: "TLS settings", Fn: checkTLS},
		{Name: "Server RPC", Fn: checkServerRPC},
	}

	fmt.Fprintln(out, "linerpc doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded cleanly.
// A missing file is only a warning: defaults and env vars still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and the LINERPC_* environment", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkServerAddress resolves the configured host.
func checkServerAddress(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupHost(ctx, cfg.Server.Host)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot resolve %s: %v", cfg.Server.Host, err),
			Fix:     "Check server.host and your DNS settings",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s resolves to %s", cfg.Server.Host, strings.Join(addrs, ", ")),
	}
}

// checkTLS verifies that TLS files referenced by the config are usable.
func checkTLS(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if !config.UsesTLS(cfg.Server.Protocol) {
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("not used by protocol %q", cfg.Server.Protocol)}
	}
	if _, err := cfg.Server.TLS.Build(cfg.Server.Host); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check server.tls.ca_file, cert_file and key_file",
		}
	}
	if cfg.Server.TLS.InsecureSkipVerify {
		return CheckResult{
			Status:  StatusWarn,
			Message: "certificate verification is disabled",
			Fix:     "Set server.tls.ca_file instead of insecure_skip_verify",
		}
	}
	return CheckResult{Status: StatusPass, Message: "TLS configuration is valid"}
}

// checkServerRPC connects and issues the keepalive method. A server error
// reply still proves the connection works, so it is only a warning.
func checkServerRPC(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	probe := *cfg
	probe.Keepalive.Enabled = false

	start := time.Now()
	s, err := openSession(ctx, &probe, quiet)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot connect: %v", err),
			Fix:     fixFor(err),
		}
	}
	defer s.Close()

	_, err = s.requester.Request(ctx, cfg.Keepalive.Method, nil)
	latency := time.Since(start)

	var rpcErr *domain.RPCError
	switch {
	case err == nil:
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s answered (latency: %dms)", cfg.Keepalive.Method, latency.Milliseconds()),
		}
	case errors.As(err, &rpcErr):
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("connected, but %s returned %v", cfg.Keepalive.Method, rpcErr),
			Fix:     "Set keepalive.method to a method the server supports",
		}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s failed: %v", cfg.Keepalive.Method, err),
			Fix:     fixFor(err),
		}
	}
}

func fixFor(err error) string {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeConnectTimeout:
		return "Check server.host/server.port and firewall rules, or raise client.connect_timeout"
	case domain.CodeRequestTimeout, domain.CodeTransportTimeout:
		return "The server is slow or not speaking line-delimited JSON-RPC; check server.protocol"
	case domain.CodeFrameParse, domain.CodeFrameTooLarge:
		return "The server sent data that is not line-delimited JSON; check server.protocol and server.path"
	default:
		return "Check that the server is running and server.protocol matches it"
	}
}
