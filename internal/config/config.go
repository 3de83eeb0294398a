// Package config loads and validates control plane configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone database so sync.timezone resolves on minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawlctl/internal/crawler"
)

// Supported db.driver values.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Sync    SyncConfig    `mapstructure:"sync"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// RateLimitRPS caps /api requests per client; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig describes the external crawler process and its supervision.
type CrawlerConfig struct {
	Command          []string          `mapstructure:"command"`
	WorkDir          string            `mapstructure:"work_dir"`
	DataDir          string            `mapstructure:"data_dir"`
	Env              []string          `mapstructure:"env"`
	StopGraceSeconds int               `mapstructure:"stop_grace_seconds"`
	KillOnTimeout    bool              `mapstructure:"kill_on_timeout"`
	WaitDelaySeconds int               `mapstructure:"wait_delay_seconds"`
	LogCapacity      int               `mapstructure:"log_capacity"`
	Cookies          map[string]string `mapstructure:"cookies"`
}

// SyncConfig governs feed synchronisation.
type SyncConfig struct {
	BatchSize int  `mapstructure:"batch_size"`
	AfterRun  bool `mapstructure:"after_run"`
	// Schedule is a cron spec for periodic SyncAll; empty disables it.
	Schedule string `mapstructure:"schedule"`
	// Timezone applies to the schedule and to zone-less native timestamps.
	Timezone string `mapstructure:"timezone"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for sync notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("crawler.command", []string{"python3", "main.py"})
	v.SetDefault("crawler.work_dir", "")
	v.SetDefault("crawler.data_dir", "data")
	v.SetDefault("crawler.env", []string{})
	v.SetDefault("crawler.stop_grace_seconds", 5)
	v.SetDefault("crawler.kill_on_timeout", true)
	v.SetDefault("crawler.wait_delay_seconds", 10)
	v.SetDefault("crawler.log_capacity", 2000)
	v.SetDefault("crawler.cookies", map[string]string{})
	v.SetDefault("sync.batch_size", 500)
	v.SetDefault("sync.after_run", true)
	v.SetDefault("sync.schedule", "")
	v.SetDefault("sync.timezone", "Asia/Shanghai")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "crawler.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if len(c.Crawler.Command) == 0 || strings.TrimSpace(c.Crawler.Command[0]) == "" {
		return fmt.Errorf("crawler.command must name an executable")
	}
	if c.Crawler.StopGraceSeconds <= 0 {
		return fmt.Errorf("crawler.stop_grace_seconds must be > 0")
	}
	if c.Crawler.LogCapacity <= 0 {
		return fmt.Errorf("crawler.log_capacity must be > 0")
	}
	for key := range c.Crawler.Cookies {
		if !crawler.Platform(strings.ToLower(key)).Valid() {
			return fmt.Errorf("crawler.cookies: unknown platform %q", key)
		}
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for driver %s", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver must be one of postgres, sqlite, memory; got %q", c.DB.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// Location resolves sync.timezone; empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Sync.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("sync.timezone: %w", err)
	}
	return loc, nil
}

// StopGrace is the SIGTERM grace period.
func (c Config) StopGrace() time.Duration {
	return time.Duration(c.Crawler.StopGraceSeconds) * time.Second
}

// WaitDelay bounds how long output pipes are drained after the crawler exits.
func (c Config) WaitDelay() time.Duration {
	return time.Duration(c.Crawler.WaitDelaySeconds) * time.Second
}

// RequestTimeout bounds a single API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown; unset means 15s.
func (c Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// CommandConfig maps the crawler section onto the command builder's config.
func (c Config) CommandConfig() crawler.CommandConfig {
	return crawler.CommandConfig{
		Argv:    append([]string(nil), c.Crawler.Command...),
		WorkDir: c.Crawler.WorkDir,
		DataDir: c.Crawler.DataDir,
		Env:     append([]string(nil), c.Crawler.Env...),
	}
}

// Cookies returns the configured per-platform login cookies.
func (c Config) Cookies() crawler.StaticCookies {
	out := make(crawler.StaticCookies, len(c.Crawler.Cookies))
	for k, v := range c.Crawler.Cookies {
		out[crawler.Platform(strings.ToLower(k))] = v
	}
	return out
}
