// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	PublicBaseURL string `mapstructure:"public_base_url"`
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

// CatalogConfig points at the channel playlist and restricts it to a fixed set of channels.
type CatalogConfig struct {
	URL         string        `mapstructure:"url"`
	Channels    []string      `mapstructure:"channels"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// ProbeConfig configures stream liveness probing.
type ProbeConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	HostRPS      float64       `mapstructure:"host_rps"`
	HostBurst    int           `mapstructure:"host_burst"`
}

// DiscoveryConfig bounds the alternate-origin scan.
type DiscoveryConfig struct {
	MaxOrigins   int    `mapstructure:"max_origins"`
	HostTemplate string `mapstructure:"host_template"`
}

// ScannerConfig governs a single scan cycle.
type ScannerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
}

// ScheduleConfig controls when scan cycles run.
type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// CacheConfig selects the working-stream persistence backend.
type CacheConfig struct {
	Backend string       `mapstructure:"backend"`
	Path    string       `mapstructure:"path"`
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	DB      DBConfig     `mapstructure:"db"`
}

// SQLiteConfig locates the sqlite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig sets where cycle reports are written.
type ArchiveConfig struct {
	Backend string      `mapstructure:"backend"`
	Bucket  string      `mapstructure:"bucket"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
}

// LocalConfig is the filesystem archive root.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Exporter    string `mapstructure:"exporter"`
}

// Load builds a Config from disk/environment. With an empty path it looks for an optional
// config.{yaml,json,toml} in the working directory, /etc/cwiptvm3 and ~/.cwiptvm3.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CWIPTV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cwiptvm3/")
		v.AddConfigPath("$HOME/.cwiptvm3")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Container platforms hand the listen port over in PORT.
	if port, ok := os.LookupEnv("PORT"); ok {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT: %w", err)
		}
		cfg.Server.Port = p
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("catalog.user_agent", "cwiptvm3/1.0")
	v.SetDefault("catalog.timeout", "30s")
	v.SetDefault("catalog.max_attempts", 3)
	v.SetDefault("probe.user_agent", "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0")
	v.SetDefault("probe.timeout", "8s")
	v.SetDefault("probe.max_body_bytes", 256*1024)
	v.SetDefault("probe.host_rps", 5)
	v.SetDefault("probe.host_burst", 2)
	v.SetDefault("discovery.max_origins", 99)
	v.SetDefault("scanner.concurrency", 1)
	v.SetDefault("scanner.cycle_timeout", "25m")
	v.SetDefault("schedule.cron", "@every 30m")
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.path", "data/working_streams.json")
	v.SetDefault("cache.sqlite.path", "data/cwiptvm3.db")
	v.SetDefault("cache.db.table", "working_streams")
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.prefix", "reports")
	v.SetDefault("tracing.service_name", "cwiptvm3")
	v.SetDefault("tracing.exporter", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Catalog.URL) == "" {
		return fmt.Errorf("catalog.url must be set")
	}
	if c.Catalog.MaxAttempts <= 0 {
		return fmt.Errorf("catalog.max_attempts must be > 0")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be > 0")
	}
	if c.Probe.MaxBodyBytes <= 0 {
		return fmt.Errorf("probe.max_body_bytes must be > 0")
	}
	if c.Discovery.MaxOrigins < 0 || c.Discovery.MaxOrigins > 99 {
		return fmt.Errorf("discovery.max_origins must be between 0 and 99")
	}
	if c.Discovery.HostTemplate != "" &&
		!strings.Contains(c.Discovery.HostTemplate, "{n}") &&
		!strings.Contains(c.Discovery.HostTemplate, "{nn}") {
		return fmt.Errorf("discovery.host_template must contain {n} or {nn}")
	}
	if c.Scanner.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be > 0")
	}
	if strings.TrimSpace(c.Schedule.Cron) == "" {
		return fmt.Errorf("schedule.cron must be set")
	}
	switch c.Cache.Backend {
	case "file":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path must be set for the file backend")
		}
	case "sqlite":
		if c.Cache.SQLite.Path == "" {
			return fmt.Errorf("cache.sqlite.path must be set for the sqlite backend")
		}
	case "postgres":
		if c.Cache.DB.DSN == "" {
			return fmt.Errorf("cache.db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of file, sqlite, postgres")
	}
	switch c.Archive.Backend {
	case "memory", "":
	case "local":
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of memory, local, gcs")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter must be one of none, stdout")
	}
	return nil
}

// PubSubEnabled reports whether change notifications should go to Pub/Sub.
func (c Config) PubSubEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
