package bridge

import (
	"os"
	"strconv"
)

// RedisConfig holds connection settings for the Redis pub/sub relay.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`  // relay is off unless enabled
	Addr     string `toml:"addr"`     // Redis address, default "localhost:6379"
	Password string `toml:"password"` // Redis password, default ""
	DB       int    `toml:"db"`       // Redis database number, default 0
	Prefix   string `toml:"prefix"`   // Channel prefix, default "crawlwatch:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "crawlwatch:",
	}
}

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv overrides cfg with any REDIS_* variables that are set.
func ApplyEnv(cfg *RedisConfig) {
	if v := os.Getenv("REDIS_RELAY"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = on
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_WS_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
}
