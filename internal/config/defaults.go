package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers the default values so the core can run with a
// minimal config file. The numeric defaults mirror the documented policy:
// 3 retries, 1s base backoff with ±50% jitter, 2 sessions per owner, 300s
// idle timeout with a 60s sweep interval.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "prowl")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)

	v.SetDefault("session.max_per_owner", 2)
	v.SetDefault("session.idle_timeout", 300*time.Second)
	v.SetDefault("session.sweep_interval", 60*time.Second)
	v.SetDefault("session.acquire_wait_timeout", time.Duration(0))
	v.SetDefault("session.drain_timeout", 30*time.Second)

	v.SetDefault("stealth.level", string(StealthAggressive))
	v.SetDefault("stealth.headless", true)
	v.SetDefault("stealth.engine", "chromium")
	v.SetDefault("stealth.randomize_engine", true)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.backoff_base", time.Second)
	v.SetDefault("retry.jitter_fraction", 0.5)

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.strategy", "health_based")
	v.SetDefault("proxy.ban_threshold", 5)
	v.SetDefault("proxy.min_reuse_delay", 5*time.Second)
	v.SetDefault("proxy.test_on_init", true)

	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.ignore_tls_errors", true)

	v.SetDefault("platform.base_url", "https://www.tiktok.com")
	v.SetDefault("platform.request_timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
}

// NewDefaultConfig returns a Config populated with the defaults only.
// Intended for tests.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(err)
	}
	return cfg
}
