package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Weather  WeatherConfig  `yaml:"weather"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Telegram TelegramConfig `yaml:"telegram"`
	Push     PushConfig     `yaml:"push"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "postgres" (default) or "sqlite"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// CityConfig describes one tracked city.
type CityConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Query   string `yaml:"query"`   // provider query string; defaults to ID
	Command string `yaml:"command"` // bot command alias; defaults to ID
}

// WeatherConfig holds the upstream provider and cache settings.
type WeatherConfig struct {
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Units           string        `yaml:"units"`
	CacheTTLMinutes int           `yaml:"cache_ttl_minutes"`
	CacheTTL        time.Duration `yaml:"-"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Cities          []CityConfig  `yaml:"cities"`
	RetentionDays   int           `yaml:"retention_days"`

	// Thresholds for logging sharp weather changes between readings.
	AlertTemperatureDelta float64 `yaml:"alert_temperature_delta"`
	AlertWindSpeed        float64 `yaml:"alert_wind_speed"`
}

// ScheduleConfig holds the notification slot and retry settings.
type ScheduleConfig struct {
	Timezone               string        `yaml:"timezone"`
	Slots                  []string      `yaml:"slots"` // "HH:MM" in the reference timezone
	RetryAttempts          int           `yaml:"retry_attempts"`
	RetryBaseSeconds       int           `yaml:"retry_base_seconds"`
	RetryBase              time.Duration `yaml:"-"`
	RefreshIntervalSeconds int           `yaml:"refresh_interval_seconds"`
	RefreshInterval        time.Duration `yaml:"-"`
	ShutdownGraceSeconds   int           `yaml:"shutdown_grace_seconds"`
	ShutdownGrace          time.Duration `yaml:"-"`
}

// TelegramConfig holds the bot settings.
type TelegramConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Token              string `yaml:"token"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// DispatchConfig holds the notification fan-out settings.
type DispatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Load reads the configuration from the given path and applies defaults.
// Secrets may come from the environment instead of the file:
// OPENWEATHER_API_KEY, TELEGRAM_BOT_TOKEN and DATABASE_DSN override their
// yaml counterparts when set.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("OPENWEATHER_API_KEY"); v != "" {
		cfg.Weather.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 60
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if c.Weather.Units == "" {
		c.Weather.Units = "metric"
	}
	if c.Weather.CacheTTLMinutes <= 0 {
		c.Weather.CacheTTLMinutes = 30
	}
	c.Weather.CacheTTL = time.Duration(c.Weather.CacheTTLMinutes) * time.Minute
	if c.Weather.TimeoutSeconds <= 0 {
		c.Weather.TimeoutSeconds = 30
	}
	if c.Weather.RetentionDays <= 0 {
		c.Weather.RetentionDays = 7
	}
	if c.Weather.AlertTemperatureDelta <= 0 {
		c.Weather.AlertTemperatureDelta = 5.0
	}
	if c.Weather.AlertWindSpeed <= 0 {
		c.Weather.AlertWindSpeed = 15.0
	}
	for i := range c.Weather.Cities {
		city := &c.Weather.Cities[i]
		if city.ID == "" {
			return fmt.Errorf("weather.cities[%d]: id is required", i)
		}
		if city.Name == "" {
			city.Name = city.ID
		}
		if city.Query == "" {
			city.Query = city.ID
		}
		if city.Command == "" {
			city.Command = city.ID
		}
	}

	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Europe/Moscow"
	}
	if len(c.Schedule.Slots) == 0 {
		c.Schedule.Slots = []string{"08:00", "21:30"}
	}
	if c.Schedule.RetryAttempts <= 0 {
		c.Schedule.RetryAttempts = 3
	}
	if c.Schedule.RetryBaseSeconds <= 0 {
		c.Schedule.RetryBaseSeconds = 2
	}
	c.Schedule.RetryBase = time.Duration(c.Schedule.RetryBaseSeconds) * time.Second
	if c.Schedule.RefreshIntervalSeconds <= 0 {
		// Keep the cache warm: refresh twice per TTL window.
		c.Schedule.RefreshIntervalSeconds = int(c.Weather.CacheTTL.Seconds()) / 2
	}
	c.Schedule.RefreshInterval = time.Duration(c.Schedule.RefreshIntervalSeconds) * time.Second
	if c.Schedule.ShutdownGraceSeconds <= 0 {
		c.Schedule.ShutdownGraceSeconds = 10
	}
	c.Schedule.ShutdownGrace = time.Duration(c.Schedule.ShutdownGraceSeconds) * time.Second

	if c.Telegram.PollTimeoutSeconds <= 0 {
		c.Telegram.PollTimeoutSeconds = 30
	}

	if c.Push.TTL <= 0 {
		c.Push.TTL = 3600
	}

	if c.Dispatch.Concurrency <= 0 {
		c.Dispatch.Concurrency = 4
	}

	return nil
}
