// Package config holds the root configuration for the scraper core. All
// options are read-only after startup; components receive the structs they
// need by value or pointer rather than through package globals, so tests can
// run several independent pools side by side.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// StealthLevel controls how much anti-detection behavior is applied.
type StealthLevel string

const (
	StealthNone       StealthLevel = "none"
	StealthBasic      StealthLevel = "basic"
	StealthAggressive StealthLevel = "aggressive"
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Session  SessionConfig  `mapstructure:"session"`
	Stealth  StealthConfig  `mapstructure:"stealth"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Platform PlatformConfig `mapstructure:"platform"`
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// SessionConfig bounds the per-owner session pool.
type SessionConfig struct {
	MaxPerOwner        int           `mapstructure:"max_per_owner"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	AcquireWaitTimeout time.Duration `mapstructure:"acquire_wait_timeout"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
}

// StealthConfig selects the default session identity posture.
type StealthConfig struct {
	Level           StealthLevel `mapstructure:"level"`
	Headless        bool         `mapstructure:"headless"`
	Engine          string       `mapstructure:"engine"`
	RandomizeEngine bool         `mapstructure:"randomize_engine"`
}

// RetryConfig drives the executor's retry and backoff policy.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	JitterFraction float64       `mapstructure:"jitter_fraction"`
}

// ProxyConfig describes the optional egress proxy rotation.
type ProxyConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	List          []string      `mapstructure:"list"`
	Strategy      string        `mapstructure:"strategy"`
	BanThreshold  int           `mapstructure:"ban_threshold"`
	MinReuseDelay time.Duration `mapstructure:"min_reuse_delay"`
	TestOnInit    bool          `mapstructure:"test_on_init"`
}

// Browser driver names.
const (
	DriverPlaywright = "playwright"
	DriverCDP        = "cdp"
)

// BrowserConfig selects the browser driver used to realize sessions.
type BrowserConfig struct {
	// Driver is "playwright" (all three engines) or "cdp" (chromium only,
	// no driver install required).
	Driver          string `mapstructure:"driver"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors"`
}

// PlatformConfig points the operation catalog at the upstream platform.
type PlatformConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
}

// PostgresConfig holds settings for the outcome audit store. An empty URL
// disables persistence entirely.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// Load unmarshals and validates a Config from the given viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch c.Stealth.Level {
	case StealthNone, StealthBasic, StealthAggressive:
	default:
		return fmt.Errorf("invalid stealth.level %q (expected none, basic or aggressive)", c.Stealth.Level)
	}

	switch c.Stealth.Engine {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("invalid stealth.engine %q (expected chromium, firefox or webkit)", c.Stealth.Engine)
	}

	switch c.Browser.Driver {
	case DriverPlaywright:
	case DriverCDP:
		if c.Stealth.Engine != "chromium" || c.Stealth.RandomizeEngine {
			return fmt.Errorf("browser.driver %q only supports the chromium engine", c.Browser.Driver)
		}
	default:
		return fmt.Errorf("invalid browser.driver %q (expected playwright or cdp)", c.Browser.Driver)
	}

	if c.Session.MaxPerOwner <= 0 {
		return fmt.Errorf("session.max_per_owner must be positive, got %d", c.Session.MaxPerOwner)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive, got %s", c.Session.IdleTimeout)
	}
	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry.max_retries must be positive, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0,1], got %f", c.Retry.JitterFraction)
	}

	if c.Proxy.Enabled {
		switch c.Proxy.Strategy {
		case "random", "round_robin", "health_based":
		default:
			return fmt.Errorf("invalid proxy.strategy %q (expected random, round_robin or health_based)", c.Proxy.Strategy)
		}
		if c.Proxy.URL == "" && len(c.Proxy.List) == 0 {
			return fmt.Errorf("proxy.enabled is set but neither proxy.url nor proxy.list is configured")
		}
	}

	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url must not be empty")
	}
	return nil
}
