// Package config provides configuration management for the straddle bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultTimezone is the canonical trading timezone used to interpret
	// entry/exit times of day.
	defaultTimezone = "Asia/Kolkata"
	// defaultWarmupDelay is how long the scheduler waits after process start
	// before arming daily runs, so dependent subsystems can warm up.
	defaultWarmupDelay = 60 * time.Second
	// defaultMaxConcurrentRuns bounds the strategy execution worker pool.
	defaultMaxConcurrentRuns = 20
)

// Config represents the complete application configuration.
type Config struct {
	Environment   EnvironmentConfig   `yaml:"environment"`
	Broker        BrokerConfig        `yaml:"broker"`
	Database      DatabaseConfig      `yaml:"database"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	MarketData    MarketDataConfig    `yaml:"market_data"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Server        ServerConfig        `yaml:"server"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings. Per-user order credentials come
// from the trading_account table; the access token here is the shared
// market-data session.
type BrokerConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	Timeout     string `yaml:"timeout"`
}

// DatabaseConfig defines the Postgres connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	// DSN overrides the individual fields when set.
	DSN string `yaml:"dsn"`
}

// ScheduleConfig defines scheduler behavior.
type ScheduleConfig struct {
	Timezone          string `yaml:"timezone"`
	WarmupDelay       string `yaml:"warmup_delay"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
}

// MarketDataConfig selects the quote source.
type MarketDataConfig struct {
	Source string `yaml:"source"` // broker | stream
	WSURL  string `yaml:"ws_url"`
}

// CalendarConfig defines the exchange-timings lookup used for holiday checks.
type CalendarConfig struct {
	BaseURL string `yaml:"base_url"`
}

// NotificationsConfig defines the email notification settings.
type NotificationsConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIURL  string `yaml:"api_url"`
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
}

// ServerConfig defines the HTTP API server settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.AccessToken == "" {
		return fmt.Errorf("broker.access_token is required")
	}
	if c.Broker.Timeout != "" {
		if _, err := time.ParseDuration(c.Broker.Timeout); err != nil {
			return fmt.Errorf("broker.timeout invalid: %w", err)
		}
	}

	if c.Database.DSN == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host or database.dsn is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
	}

	if _, err := time.LoadLocation(c.TimezoneName()); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	if c.Schedule.WarmupDelay != "" {
		d, err := time.ParseDuration(c.Schedule.WarmupDelay)
		if err != nil {
			return fmt.Errorf("schedule.warmup_delay invalid: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("schedule.warmup_delay must not be negative")
		}
	}
	if c.Schedule.MaxConcurrentRuns < 0 {
		return fmt.Errorf("schedule.max_concurrent_runs must not be negative")
	}

	switch c.MarketData.Source {
	case "", "broker":
	case "stream":
		if c.MarketData.WSURL == "" {
			return fmt.Errorf("market_data.ws_url is required when source is 'stream'")
		}
	default:
		return fmt.Errorf("market_data.source must be 'broker' or 'stream'")
	}

	if c.Calendar.BaseURL == "" {
		return fmt.Errorf("calendar.base_url is required")
	}

	if c.Notifications.Enabled {
		if c.Notifications.APIURL == "" {
			return fmt.Errorf("notifications.api_url is required when notifications are enabled")
		}
		if c.Notifications.APIKey == "" {
			return fmt.Errorf("notifications.api_key is required when notifications are enabled")
		}
		if c.Notifications.From == "" {
			return fmt.Errorf("notifications.from is required when notifications are enabled")
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [0,65535]")
	}

	return nil
}

// ConnString builds the Postgres connection string from the individual
// fields, unless an explicit DSN overrides them.
func (d *DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	port := d.Port
	if port == 0 {
		port = 5432
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, port, d.User, d.Password, d.Name, sslMode)
}

// TimezoneName returns the configured trading timezone, defaulting to IST.
func (c *Config) TimezoneName() string {
	if c.Schedule.Timezone == "" {
		return defaultTimezone
	}
	return c.Schedule.Timezone
}

// Location loads the trading timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimezoneName())
	if err != nil {
		// Fallback for minimal containers
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// WarmupDelay returns the configured scheduler warm-up delay.
func (c *Config) WarmupDelay() time.Duration {
	if c.Schedule.WarmupDelay == "" {
		return defaultWarmupDelay
	}
	d, err := time.ParseDuration(c.Schedule.WarmupDelay)
	if err != nil {
		return defaultWarmupDelay
	}
	return d
}

// MaxConcurrentRuns returns the worker pool bound.
func (c *Config) MaxConcurrentRuns() int {
	if c.Schedule.MaxConcurrentRuns <= 0 {
		return defaultMaxConcurrentRuns
	}
	return c.Schedule.MaxConcurrentRuns
}

// BrokerTimeout returns the HTTP timeout for broker calls.
func (c *Config) BrokerTimeout() time.Duration {
	if c.Broker.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.Broker.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}
