// Package config builds the process configuration once at startup. The value
// is passed by injection; business logic never reads environment state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration value constructed in main.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Backup    BackupConfig    `yaml:"backup"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
}

type DatabaseConfig struct {
	Driver             string `yaml:"driver"`
	DSN                string `yaml:"dsn"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
	TxTimeoutSec       int    `yaml:"tx_timeout_sec"`
}

// TxTimeout is the per-unit-of-work deadline.
func (c DatabaseConfig) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSec) * time.Second
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	AccessTTLMinutes int    `yaml:"access_ttl_minutes"`
	RefreshTTLDays   int    `yaml:"refresh_ttl_days"`
}

func (c AuthConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLMinutes) * time.Minute
}

func (c AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLDays) * 24 * time.Hour
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

type BackupConfig struct {
	// Schedule is a cron expression; empty disables scheduled dumps.
	Schedule string `yaml:"schedule"`
	Dir      string `yaml:"dir"`
	// SweepSchedule runs the nightly appointment completion sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// BootstrapConfig seeds the administrator account at startup. Registration
// only creates patients, so this is the sole way an admin comes to exist.
// Both fields empty disables seeding.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// Load builds the configuration from defaults, an optional YAML file pointed
// to by CONFIG_FILE, and environment variable overrides, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
		},
		Database: DatabaseConfig{
			Driver:             "postgres",
			MaxOpenConns:       10,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
			TxTimeoutSec:       30,
		},
		Auth: AuthConfig{
			AccessTTLMinutes: 60,
			RefreshTTLDays:   7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Backup: BackupConfig{
			Dir:           "./backups",
			SweepSchedule: "0 3 * * *",
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Database.Driver, "DATABASE_DRIVER")
	setString(&cfg.Database.DSN, "DATABASE_DSN")
	setInt(&cfg.Database.MaxOpenConns, "DATABASE_MAX_OPEN_CONNS")
	setInt(&cfg.Database.MaxIdleConns, "DATABASE_MAX_IDLE_CONNS")
	setInt(&cfg.Database.ConnMaxLifetimeSec, "DATABASE_CONN_MAX_LIFETIME_SEC")
	setInt(&cfg.Database.TxTimeoutSec, "DATABASE_TX_TIMEOUT_SEC")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setInt(&cfg.Auth.AccessTTLMinutes, "ACCESS_TTL_MINUTES")
	setInt(&cfg.Auth.RefreshTTLDays, "REFRESH_TTL_DAYS")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setInt(&cfg.RateLimit.RequestsPerSecond, "RATE_LIMIT_RPS")
	setInt(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST")
	setString(&cfg.Backup.Schedule, "BACKUP_SCHEDULE")
	setString(&cfg.Backup.Dir, "BACKUP_DIR")
	setString(&cfg.Backup.SweepSchedule, "SWEEP_SCHEDULE")
	setString(&cfg.Bootstrap.AdminEmail, "ADMIN_EMAIL")
	setString(&cfg.Bootstrap.AdminPassword, "ADMIN_PASSWORD")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

// Validate rejects configurations the process cannot safely start with.
// A missing signing secret is fatal rather than defaulted.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth: JWT_SECRET is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database: DSN is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Auth.AccessTTLMinutes <= 0 || c.Auth.RefreshTTLDays <= 0 {
		return fmt.Errorf("auth: token TTLs must be positive")
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		return fmt.Errorf("bootstrap: ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}
