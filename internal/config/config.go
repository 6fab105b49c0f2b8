package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Pebble PebbleConfig `yaml:"pebble"`
	Ledger LedgerConfig `yaml:"ledger"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Port       int    `yaml:"port"`
	Host       string `yaml:"host"`
	CORSOrigin string `yaml:"cors_origin"`
}

// PebbleConfig represents the Pebble database configuration
type PebbleConfig struct {
	Path        string `yaml:"path"`
	CacheSizeMB int64  `yaml:"cache_size_mb"`
}

// LedgerConfig represents the ledger engine configuration
type LedgerConfig struct {
	Persist       bool  `yaml:"persist"`         // Keep sealed blocks in Pebble and replay them on start
	SealTimeoutMS int   `yaml:"seal_timeout_ms"` // Bounded wait for the writer lock
	DefaultProof  int64 `yaml:"default_proof"`   // Proof stamped on blocks sealed without one
	GenesisProof  int64 `yaml:"genesis_proof"`
}

// LogConfig represents the log output configuration
type LogConfig struct {
	File       string `yaml:"file"` // Empty logs to stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SealTimeout returns the writer lock wait as a duration
func (l LedgerConfig) SealTimeout() time.Duration {
	return time.Duration(l.SealTimeoutMS) * time.Millisecond
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       5001,
			Host:       "0.0.0.0",
			CORSOrigin: "*",
		},
		Pebble: PebbleConfig{
			Path:        "./data/pebble",
			CacheSizeMB: 64,
		},
		Ledger: LedgerConfig{
			Persist:       true,
			SealTimeoutMS: 2000,
			DefaultProof:  12345,
			GenesisProof:  100,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load loads configuration from a YAML file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would make the server unusable
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Ledger.SealTimeoutMS <= 0 {
		return fmt.Errorf("invalid ledger seal timeout: %dms", c.Ledger.SealTimeoutMS)
	}
	if c.Ledger.Persist && c.Pebble.Path == "" {
		return fmt.Errorf("pebble path is required when ledger persistence is enabled")
	}
	return nil
}

func (c *Config) loadEnv() {
	// Server config
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if origin := os.Getenv("SERVER_CORS_ORIGIN"); origin != "" {
		c.Server.CORSOrigin = origin
	}

	// Pebble config
	if path := os.Getenv("PEBBLE_PATH"); path != "" {
		c.Pebble.Path = path
	}

	// Ledger config
	if persist := os.Getenv("LEDGER_PERSIST"); persist != "" {
		c.Ledger.Persist = persist == "true" || persist == "1"
	}
	if timeout := os.Getenv("LEDGER_SEAL_TIMEOUT_MS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			c.Ledger.SealTimeoutMS = t
		}
	}
	if proof := os.Getenv("LEDGER_DEFAULT_PROOF"); proof != "" {
		if p, err := strconv.ParseInt(proof, 10, 64); err == nil {
			c.Ledger.DefaultProof = p
		}
	}

	// Log config
	if file := os.Getenv("LOG_FILE"); file != "" {
		c.Log.File = file
	}
}
