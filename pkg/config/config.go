// Package config loads the engine's configuration from the environment.
// Only this package reads environment variables; every core component
// receives plain values at construction.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration.
type Config struct {
	// Durable tier
	DatabaseURL string `mapstructure:"turso_database_url"`
	AuthToken   string `mapstructure:"turso_auth_token"`

	// Cache tier
	CachePath    string `mapstructure:"redb_cache_path"`
	MaxCacheSize int    `mapstructure:"redb_max_cache_size"`

	// Tuning
	Pool        PoolConfig        `mapstructure:"pool"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Compression CompressionConfig `mapstructure:"compression"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConnections     int           `mapstructure:"max_connections"`
	ConnectionTimeout  time.Duration `mapstructure:"connection_timeout"`
	EnableHealthCheck  bool          `mapstructure:"enable_health_check"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	KeepAliveInterval  time.Duration `mapstructure:"keep_alive_interval"`
	StaleThreshold     time.Duration `mapstructure:"stale_threshold"`
	PingTimeout        time.Duration `mapstructure:"ping_timeout"`
}

// SyncConfig tunes the tier synchronizer.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Policy   string        `mapstructure:"policy"`
}

// CompressionConfig tunes the payload codec.
type CompressionConfig struct {
	Threshold int `mapstructure:"threshold"`
}

// ExtractionConfig tunes the pattern extraction queue.
type ExtractionConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		CachePath:    "memory-cache.redb",
		MaxCacheSize: 10000,
		Pool: PoolConfig{
			MaxConnections:     10,
			ConnectionTimeout:  5 * time.Second,
			EnableHealthCheck:  true,
			HealthCheckTimeout: 2 * time.Second,
			KeepAliveInterval:  30 * time.Second,
			StaleThreshold:     60 * time.Second,
			PingTimeout:        2 * time.Second,
		},
		Sync: SyncConfig{
			Interval: 60 * time.Second,
			Policy:   "turso_wins",
		},
		Compression: CompressionConfig{
			Threshold: 1024,
		},
		Extraction: ExtractionConfig{
			Workers:      2,
			QueueSize:    256,
			PollInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads configuration from the environment on top of defaults.
// Recognized variables: TURSO_DATABASE_URL, TURSO_AUTH_TOKEN,
// REDB_CACHE_PATH, REDB_MAX_CACHE_SIZE.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"turso_database_url",
		"turso_auth_token",
		"redb_cache_path",
		"redb_max_cache_size",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	if url := v.GetString("turso_database_url"); url != "" {
		cfg.DatabaseURL = url
	}
	if token := v.GetString("turso_auth_token"); token != "" {
		cfg.AuthToken = token
	}
	if path := v.GetString("redb_cache_path"); path != "" {
		cfg.CachePath = path
	}
	if size := v.GetInt("redb_max_cache_size"); size > 0 {
		cfg.MaxCacheSize = size
	}
	return cfg, nil
}
