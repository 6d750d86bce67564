package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"linerpc/internal/infra/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(2)
	}

	flags, args, err := parseArgs(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "version", "--version":
		fmt.Printf("linerpc %s\n", version)
		return
	case "call":
		err = runCall(ctx, flags, args, os.Stdout)
	case "watch":
		err = runWatch(ctx, flags, args, os.Stdout)
	case "doctor":
		err = runDoctor(flags, os.Stdout)
	case "encrypt":
		err = runEncrypt(args, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'linerpc --help' for usage information.\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`linerpc - JSON-RPC client for line-delimited TCP, TLS and WebSocket servers

USAGE:
    linerpc COMMAND [FLAGS] [ARGS]

COMMANDS:
    call METHOD [PARAMS]     Send one request and print the result
    watch METHOD [PARAMS]    Subscribe and print notifications until interrupted
    doctor                   Check config and server reachability
    encrypt VALUE            Encrypt a secret for the config file (needs LINERPC_CONFIG_KEY)
    version                  Print the version
    help                     Show this help message

FLAGS:
    --config PATH      Config file (default: ./linerpc.yaml, or $LINERPC_CONFIG)
    --host HOST        Server host
    --port PORT        Server port
    --protocol NAME    tcp, tls, ssl, ws or wss
    --notify METHOD    Notification method for watch (default: METHOD)
    --log-level LEVEL  debug, info, warn or error (overrides logger.level)

PARAMS is a JSON array or object, e.g. '["bc1q..."]'. Omitted params are sent as [].

CONFIGURATION:
    Environment: LINERPC_* variables override config; a .env file in the
    working directory is loaded first.

EXAMPLES:
    linerpc call server.version '["linerpc", "1.4"]' --host electrum.example.org --port 50002 --protocol ssl
    linerpc watch blockchain.headers.subscribe
    linerpc doctor --config /etc/linerpc.yaml`)
}

// cliFlags holds flags that override the config file.
type cliFlags struct {
	Config   string
	Host     string
	Port     int
	Protocol string
	Notify   string
	LogLevel string
}

// parseArgs splits args into flags and positional arguments. Flags may
// appear anywhere and accept both "--flag value" and "--flag=value".
func parseArgs(args []string) (cliFlags, []string, error) {
	var flags cliFlags
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		switch name {
		case "config", "host", "port", "protocol", "notify", "log-level":
		default:
			return flags, nil, fmt.Errorf("unknown flag --%s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("flag --%s needs a value", name)
			}
			i++
			value = args[i]
		}

		switch name {
		case "config":
			flags.Config = value
		case "host":
			flags.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil || port <= 0 || port > 65535 {
				return flags, nil, fmt.Errorf("invalid --port %q", value)
			}
			flags.Port = port
		case "protocol":
			flags.Protocol = value
		case "notify":
			flags.Notify = value
		case "log-level":
			flags.LogLevel = value
		}
	}
	return flags, positional, nil
}

func configPath(flags cliFlags) string {
	if flags.Config != "" {
		return flags.Config
	}
	if p := os.Getenv("LINERPC_CONFIG"); p != "" {
		return p
	}
	return "linerpc.yaml"
}

// loadConfig loads the config file and applies flag overrides on top.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(configPath(flags))
	if err != nil {
		return nil, err
	}
	if flags.Host == "" && flags.Port == 0 && flags.Protocol == "" && flags.LogLevel == "" {
		return cfg, nil
	}

	if flags.Host != "" {
		cfg.Server.Host = flags.Host
	}
	if flags.Port != 0 {
		cfg.Server.Port = flags.Port
	}
	if flags.Protocol != "" {
		cfg.Server.Protocol = flags.Protocol
	}
	if flags.LogLevel != "" {
		cfg.Logger.Level = flags.LogLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseParams validates the optional PARAMS argument. nil means none.
func parseParams(args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) > 1 {
		return nil, fmt.Errorf("expected at most one PARAMS argument, got %d", len(args))
	}
	raw := json.RawMessage(strings.TrimSpace(args[0]))
	if !json.Valid(raw) {
		return nil, fmt.Errorf("PARAMS is not valid JSON: %s", args[0])
	}
	return raw, nil
}

// printJSON writes raw indented, or verbatim when it does not parse.
func printJSON(w io.Writer, raw json.RawMessage) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, werr := fmt.Fprintln(w, string(raw))
		return werr
	}
	_, err := fmt.Fprintln(w, out.String())
	return err
}

func runEncrypt(args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: linerpc encrypt VALUE")
	}
	passphrase := os.Getenv("LINERPC_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("LINERPC_CONFIG_KEY must be set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "enc:%s\n", enc)
	return err
}
