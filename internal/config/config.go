// Package config provides configuration management for the premium key server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Store      StoreConfig      `mapstructure:"store"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Platform   PlatformConfig   `mapstructure:"platform"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Keys       KeysConfig       `mapstructure:"keys"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// Addr returns the listen address in host:port format.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig selects where the authoritative key snapshot is kept.
type StoreConfig struct {
	// Backend is one of "file", "redis" or "s3".
	Backend string `mapstructure:"backend"`

	// Path is the snapshot file for the file backend.
	Path string `mapstructure:"path"`

	// RedisKey is the key holding the snapshot for the redis backend.
	RedisKey string `mapstructure:"redis_key"`

	S3 S3StoreConfig `mapstructure:"s3"`
}

// S3StoreConfig holds S3 snapshot backend settings.
type S3StoreConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Key             string `mapstructure:"key"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// DatabaseConfig holds secondary store connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "sqlite", "postgres" or "none".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string. URL wins when set.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// Enabled reports whether a secondary store is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Driver != "" && c.Driver != "none"
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PlatformConfig holds community platform settings.
type PlatformConfig struct {
	// Driver is "discord" or "log". The log driver performs no remote calls.
	Driver string `mapstructure:"driver"`

	Token   string `mapstructure:"token"`
	APIBase string `mapstructure:"api_base"`

	// GuildIDs restricts which joined guilds are considered. Empty means all.
	GuildIDs []int64 `mapstructure:"guild_ids"`

	PremiumRoleID   int64 `mapstructure:"premium_role_id"`
	LogChannelID    int64 `mapstructure:"log_channel_id"`
	StatusChannelID int64 `mapstructure:"status_channel_id"`

	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max"`
}

// ReconcilerConfig holds expiry reconciliation settings.
type ReconcilerConfig struct {
	// Enabled determines if the periodic reconciler runs.
	Enabled bool `mapstructure:"enabled"`

	// Interval is the wait between the end of one cycle and the start of the next.
	Interval time.Duration `mapstructure:"interval"`
}

// KeysConfig holds key lifecycle settings.
type KeysConfig struct {
	// RoleGrantTimeout bounds the role grant issued after a redemption.
	RoleGrantTimeout time.Duration `mapstructure:"role_grant_timeout"`
}

// AuthConfig holds authentication settings for the admin API.
type AuthConfig struct {
	// AdminTokenHash is the bcrypt hash of the admin bearer token.
	// Empty disables the admin routes.
	AdminTokenHash string `mapstructure:"admin_token_hash"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the port for the metrics HTTP server.
	Port int `mapstructure:"port"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with PREMIUM_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("PREMIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file configuration
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/premium-keys")
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_size", 64*1024)

	// Authoritative store defaults
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "./data/premium_keys.json")
	v.SetDefault("store.redis_key", "premium:keys:snapshot")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.access_key_id", "")
	v.SetDefault("store.s3.secret_access_key", "")
	v.SetDefault("store.s3.key", "premium_keys.json")
	v.SetDefault("store.s3.use_path_style", true)

	// Secondary store defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "premium")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "premium")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	// SQLite defaults
	v.SetDefault("database.path", "./data/premium_keys.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	// Platform defaults
	v.SetDefault("platform.driver", "log")
	v.SetDefault("platform.token", "")
	v.SetDefault("platform.api_base", "https://discord.com/api/v10")
	v.SetDefault("platform.guild_ids", []int64{})
	v.SetDefault("platform.premium_role_id", 0)
	v.SetDefault("platform.log_channel_id", 0)
	v.SetDefault("platform.status_channel_id", 0)
	v.SetDefault("platform.request_timeout", 10*time.Second)
	v.SetDefault("platform.retry_max", 3)

	// Reconciler defaults
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", 10*time.Minute)

	// Key lifecycle defaults
	v.SetDefault("keys.role_grant_timeout", 10*time.Second)

	// Auth defaults
	v.SetDefault("auth.admin_token_hash", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate store configuration
	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for file backend")
		}
	case "redis":
		if c.Store.RedisKey == "" {
			return fmt.Errorf("store.redis_key is required for redis backend")
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for s3 backend")
		}
	default:
		return fmt.Errorf("store.backend must be 'file', 'redis' or 's3'")
	}

	// Validate database configuration
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			if c.Database.Host == "" {
				return fmt.Errorf("database.host is required for postgres driver")
			}
			if c.Database.User == "" {
				return fmt.Errorf("database.user is required for postgres driver")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database.database is required for postgres driver")
			}
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite driver")
		}
	case "none", "":
	default:
		return fmt.Errorf("database.driver must be 'sqlite', 'postgres' or 'none'")
	}

	// Validate platform configuration
	switch c.Platform.Driver {
	case "discord":
		if c.Platform.Token == "" {
			return fmt.Errorf("platform.token is required for discord driver")
		}
		if c.Platform.PremiumRoleID == 0 {
			return fmt.Errorf("platform.premium_role_id is required for discord driver")
		}
	case "log":
	default:
		return fmt.Errorf("platform.driver must be 'discord' or 'log'")
	}

	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be positive")
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
