package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Guard     GuardConfig     `yaml:"guard"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// ServerConfig identifies the JSON-RPC server.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"` // tcp, tls, ssl, ws, wss
	Path     string `yaml:"path"`     // ws/wss only
	// AuthToken is sent as a bearer token on the WebSocket handshake.
	// May be stored encrypted as "enc:..." (see EncryptValue).
	AuthToken string    `yaml:"auth_token"`
	TLS       TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS client settings for tls, ssl and wss.
type TLSConfig struct {
	ServerName         string `yaml:"server_name"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ClientConfig holds connection runtime settings.
type ClientConfig struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"` // 0 disables the idle timeout
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	KeepAlivePeriod  time.Duration `yaml:"keepalive_period"` // TCP keep-alive; 0 = system default, <0 = off
	MaxFramesPerPass int           `yaml:"max_frames_per_pass"`
	MaxFrameSize     int           `yaml:"max_frame_size"` // bytes; 0 = unlimited
}

// GuardConfig holds caller-side request protection settings.
type GuardConfig struct {
	RequestTimeout time.Duration   `yaml:"request_timeout"` // 0 = no per-request timeout
	Breaker        BreakerConfig   `yaml:"breaker"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// RateLimitConfig holds outbound request rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// KeepaliveConfig holds periodic ping settings.
type KeepaliveConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Method   string        `yaml:"method"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	// MaxValueBytes caps string and raw JSON attribute values, such as
	// frames and notification params. 0 disables the cap.
	MaxValueBytes int `yaml:"max_value_bytes"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "localhost",
			Port:     50001,
			Protocol: "tcp",
			Path:     "/",
		},
		Client: ClientConfig{
			ConnectTimeout:   10 * time.Second,
			WriteTimeout:     10 * time.Second,
			MaxFramesPerPass: 20,
			MaxFrameSize:     16 << 20,
		},
		Guard: GuardConfig{
			RequestTimeout: 30 * time.Second,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
		Keepalive: KeepaliveConfig{
			Interval: 60 * time.Second,
			Method:   "server.ping",
			Timeout:  10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:         "info",
			Format:        "text",
			Output:        "stderr",
			MaxValueBytes: 512,
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: the main file takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("LINERPC_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps LINERPC_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINERPC_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LINERPC_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("LINERPC_SERVER_PROTOCOL"); v != "" {
		cfg.Server.Protocol = v
	}
	if v := os.Getenv("LINERPC_SERVER_PATH"); v != "" {
		cfg.Server.Path = v
	}
	if v := os.Getenv("LINERPC_SERVER_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("LINERPC_TLS_SERVER_NAME"); v != "" {
		cfg.Server.TLS.ServerName = v
	}
	if v := os.Getenv("LINERPC_TLS_CA_FILE"); v != "" {
		cfg.Server.TLS.CAFile = v
	}
	if v := os.Getenv("LINERPC_TLS_INSECURE_SKIP_VERIFY"); v == "true" {
		cfg.Server.TLS.InsecureSkipVerify = true
	}

	if v := os.Getenv("LINERPC_CLIENT_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Client.ConnectTimeout = d
		}
	}
	if v := os.Getenv("LINERPC_CLIENT_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Client.ReadTimeout = d
		}
	}
	if v := os.Getenv("LINERPC_CLIENT_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Client.WriteTimeout = d
		}
	}
	if v := os.Getenv("LINERPC_CLIENT_MAX_FRAME_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Client.MaxFrameSize = n
		}
	}

	if v := os.Getenv("LINERPC_GUARD_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Guard.RequestTimeout = d
		}
	}
	if v := os.Getenv("LINERPC_GUARD_BREAKER_ENABLED"); v == "true" {
		cfg.Guard.Breaker.Enabled = true
	}
	if v := os.Getenv("LINERPC_GUARD_RATE_LIMIT_ENABLED"); v == "true" {
		cfg.Guard.RateLimit.Enabled = true
	}
	if v := os.Getenv("LINERPC_GUARD_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Guard.RateLimit.RequestsPerSecond = f
		}
	}

	if v := os.Getenv("LINERPC_KEEPALIVE_ENABLED"); v == "true" {
		cfg.Keepalive.Enabled = true
	}
	if v := os.Getenv("LINERPC_KEEPALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Keepalive.Interval = d
		}
	}
	if v := os.Getenv("LINERPC_KEEPALIVE_METHOD"); v != "" {
		cfg.Keepalive.Method = v
	}

	if v := os.Getenv("LINERPC_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LINERPC_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LINERPC_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("LINERPC_LOGGER_MAX_VALUE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Logger.MaxValueBytes = n
		}
	}
	if v := os.Getenv("LINERPC_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("LINERPC_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"server.auth_token": &cfg.Server.AuthToken,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*fp = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
