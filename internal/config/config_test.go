package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
environment:
  log_level: info

broker:
  base_url: https://api.kite.trade
  api_key: test-key
  access_token: test-token
  timeout: 15s

database:
  host: localhost
  port: 5432
  user: straddle
  password: secret
  name: straddle
  ssl_mode: disable

schedule:
  timezone: Asia/Kolkata
  warmup_delay: 60s
  max_concurrent_runs: 10

market_data:
  source: broker

calendar:
  base_url: https://api.example.com/exchange-timings

notifications:
  enabled: false

server:
  port: 9090
  auth_token: dashboard-secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.BaseURL != "https://api.kite.trade" {
		t.Errorf("BaseURL = %q, want %q", cfg.Broker.BaseURL, "https://api.kite.trade")
	}
	if got := cfg.BrokerTimeout(); got != 15*time.Second {
		t.Errorf("BrokerTimeout() = %v, want 15s", got)
	}
	if got := cfg.WarmupDelay(); got != 60*time.Second {
		t.Errorf("WarmupDelay() = %v, want 60s", got)
	}
	if got := cfg.MaxConcurrentRuns(); got != 10 {
		t.Errorf("MaxConcurrentRuns() = %d, want 10", got)
	}
	if got := cfg.TimezoneName(); got != "Asia/Kolkata" {
		t.Errorf("TimezoneName() = %q, want Asia/Kolkata", got)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("STRADDLE_TEST_TOKEN", "expanded-token")
	content := strings.Replace(validYAML, "access_token: test-token",
		"access_token: ${STRADDLE_TEST_TOKEN}", 1)

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.AccessToken != "expanded-token" {
		t.Errorf("AccessToken = %q, want %q", cfg.Broker.AccessToken, "expanded-token")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	content := validYAML + "\nbogus_section:\n  x: 1\n"
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Error("Load() with unknown field should fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing broker base_url",
			mutate:  func(c *Config) { c.Broker.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Broker.APIKey = "" },
			wantErr: true,
		},
		{
			name:    "missing access token",
			mutate:  func(c *Config) { c.Broker.AccessToken = "" },
			wantErr: true,
		},
		{
			name:    "bad broker timeout",
			mutate:  func(c *Config) { c.Broker.Timeout = "soon" },
			wantErr: true,
		},
		{
			name: "missing database host",
			mutate: func(c *Config) {
				c.Database.Host = ""
				c.Database.DSN = ""
			},
			wantErr: true,
		},
		{
			name: "dsn overrides host fields",
			mutate: func(c *Config) {
				c.Database.Host = ""
				c.Database.DSN = "host=db port=5432 user=u password=p dbname=straddle"
			},
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "negative warmup",
			mutate:  func(c *Config) { c.Schedule.WarmupDelay = "-5s" },
			wantErr: true,
		},
		{
			name:    "stream source without ws_url",
			mutate:  func(c *Config) { c.MarketData.Source = "stream" },
			wantErr: true,
		},
		{
			name: "stream source with ws_url",
			mutate: func(c *Config) {
				c.MarketData.Source = "stream"
				c.MarketData.WSURL = "wss://ws.kite.trade"
			},
		},
		{
			name:    "unknown market data source",
			mutate:  func(c *Config) { c.MarketData.Source = "csv" },
			wantErr: true,
		},
		{
			name:    "missing calendar base_url",
			mutate:  func(c *Config) { c.Calendar.BaseURL = "" },
			wantErr: true,
		},
		{
			name: "notifications enabled without api key",
			mutate: func(c *Config) {
				c.Notifications.Enabled = true
				c.Notifications.APIURL = "https://api.resend.com/emails"
				c.Notifications.From = "bot@example.com"
			},
			wantErr: true,
		},
		{
			name:    "server port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	content := `
broker:
  base_url: https://api.kite.trade
  api_key: key
  access_token: tok
database:
  host: localhost
  name: straddle
calendar:
  base_url: https://api.example.com/exchange-timings
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.TimezoneName(); got != "Asia/Kolkata" {
		t.Errorf("default timezone = %q, want Asia/Kolkata", got)
	}
	if got := cfg.WarmupDelay(); got != 60*time.Second {
		t.Errorf("default warmup = %v, want 60s", got)
	}
	if got := cfg.MaxConcurrentRuns(); got != 20 {
		t.Errorf("default max concurrent runs = %d, want 20", got)
	}
	if got := cfg.BrokerTimeout(); got != 10*time.Second {
		t.Errorf("default broker timeout = %v, want 10s", got)
	}
}

func TestConnString(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "u", Password: "p", Name: "straddle"}
	got := d.ConnString()
	want := "host=db port=5432 user=u password=p dbname=straddle sslmode=disable"
	if got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}

	d.DSN = "postgres://u:p@db/straddle"
	if got := d.ConnString(); got != d.DSN {
		t.Errorf("ConnString() with DSN = %q, want %q", got, d.DSN)
	}
}
