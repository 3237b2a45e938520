package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/orchestra-mcp/crawlwatch/src/bridge"
	"github.com/orchestra-mcp/crawlwatch/src/channel"
	"github.com/rs/zerolog"
)

//go:embed crawlwatch.example.toml
var exampleConf []byte

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds watcher configuration.
type Config struct {
	WSURL                string        `toml:"ws_url"`
	APIURL               string        `toml:"api_url"`
	TokenFile            string        `toml:"token_file"`
	StatusAddr           string        `toml:"status_addr"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `toml:"reconnect_max_delay"`
	DispatchInterval     time.Duration `toml:"dispatch_interval"`
	HandshakeTimeout     time.Duration `toml:"handshake_timeout"`
	RequestTimeout       time.Duration `toml:"request_timeout"`

	Log   LogConfig          `toml:"log"`
	Redis bridge.RedisConfig `toml:"redis"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"` // console writer instead of JSON
}

// DefaultConfig returns the default watcher configuration.
func DefaultConfig() *Config {
	return &Config{
		WSURL:                "ws://localhost:8080/ws",
		APIURL:               "http://localhost:8080",
		TokenFile:            DefaultTokenFile(),
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		DispatchInterval:     10 * time.Millisecond,
		HandshakeTimeout:     10 * time.Second,
		RequestTimeout:       15 * time.Second,
		Log:                  LogConfig{Level: "info"},
		Redis:                *bridge.DefaultRedisConfig(),
	}
}

// DefaultTokenFile is ~/.crawlwatch/token, or a relative path when the home
// directory is unknown.
func DefaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".crawlwatch", "token")
	}
	return filepath.Join(home, ".crawlwatch", "token")
}

// Load builds the effective configuration: defaults, then the TOML file at
// path when path is non-empty, then the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in the TOML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile()
	}
	return nil
}

// FromEnv overrides fields with any CRAWL_*, LOG_* and REDIS_* variables set.
func (c *Config) FromEnv() {
	if v := os.Getenv("CRAWL_WS_URL"); v != "" {
		c.WSURL = v
	}
	if v := os.Getenv("CRAWL_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("CRAWL_TOKEN_FILE"); v != "" {
		c.TokenFile = v
	}
	if v := os.Getenv("CRAWL_STATUS_ADDR"); v != "" {
		c.StatusAddr = v
	}
	if v := os.Getenv("CRAWL_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Log.Pretty = on
		}
	}
	bridge.ApplyEnv(&c.Redis)
}

// Validate checks that the configuration can run a watcher.
func (c *Config) Validate() error {
	if err := checkURL(c.WSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("%w: ws_url: %v", ErrInvalidConfig, err)
	}
	if err := checkURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("%w: api_url: %v", ErrInvalidConfig, err)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must not be negative", ErrInvalidConfig)
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("%w: reconnect delays must satisfy 0 < base <= max", ErrInvalidConfig)
	}
	if c.DispatchInterval < 0 || c.HandshakeTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when the relay is enabled", ErrInvalidConfig)
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, schemes[0])
}

// ChannelConfig returns the realtime channel settings.
func (c *Config) ChannelConfig() channel.Config {
	return channel.Config{
		URL:                  c.WSURL,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		BaseDelay:            c.ReconnectBaseDelay,
		MaxDelay:             c.ReconnectMaxDelay,
		DispatchInterval:     c.DispatchInterval,
	}
}

// CreateConfigFile writes the example configuration to path. It refuses to
// overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
