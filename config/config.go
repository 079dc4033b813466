// Package config defines all configuration for feedrouter. Config is
// loaded from a YAML file (default: config.yaml) with FEEDROUTER_*
// environment overrides; defaults cover a full local run with the
// optional side-channels disabled.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file.
type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log  LogConfig  `mapstructure:"log"`
	Auth AuthConfig `mapstructure:"auth"`

	Venues    []string `mapstructure:"venues"`
	Symbols   []string `mapstructure:"symbols"`
	Intervals []int    `mapstructure:"intervals"`

	SnapshotPath string `mapstructure:"snapshot_path"`

	Binance VenueConfig `mapstructure:"binance"`
	OKX     VenueConfig `mapstructure:"okx"`
	Sim     VenueConfig `mapstructure:"sim"`

	Archive ArchiveConfig `mapstructure:"archive"`
	Journal JournalConfig `mapstructure:"journal"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Notify  NotifyConfig  `mapstructure:"notify"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// AuthConfig holds the JWT signing secret and token lifetime.
// SecretKey should be overridden via FEEDROUTER_AUTH_SECRET_KEY in any
// real deployment.
type AuthConfig struct {
	SecretKey       string `mapstructure:"secret_key"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

// VenueConfig holds per-venue endpoints. RestURL is only used for the
// optional startup preflight probe.
type VenueConfig struct {
	WSURL   string `mapstructure:"ws_url"`
	RestURL string `mapstructure:"rest_url"`
}

// ArchiveConfig controls the SQLite closed-candle archive.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// JournalConfig controls the SQLite fills journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MirrorConfig controls the Redis live-event mirror.
type MirrorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotifyConfig controls fill notifications. Empty targets disable the
// corresponding backend.
type NotifyConfig struct {
	WebhookURL       string `mapstructure:"webhook_url"`
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
}

// RateLimitConfig bounds /register and /login per client IP.
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// Load reads config from a YAML file with env var overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FEEDROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// viper wraps fs errors for explicit SetConfigFile paths instead of
// returning ConfigFileNotFoundError, so match on the message too.
func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("metrics_addr", ":9100")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("auth.secret_key", "CHANGE_ME_DEV_SECRET")
	v.SetDefault("auth.token_ttl_minutes", 1440)
	v.SetDefault("venues", []string{"binance", "okx"})
	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT", "XRPUSDT"})
	v.SetDefault("intervals", []int{1, 10, 60, 300})
	v.SetDefault("snapshot_path", "data/state.json")
	v.SetDefault("binance.ws_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("binance.rest_url", "https://api.binance.com")
	v.SetDefault("okx.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("okx.rest_url", "https://www.okx.com")
	v.SetDefault("sim.ws_url", "ws://localhost:9001/ws")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "data/candles.db")
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "data/fills.db")
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.addr", "localhost:6379")
	v.SetDefault("rate_limit.per_second", 5)
	v.SetDefault("rate_limit.burst", 10)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Auth.SecretKey == "" {
		return fmt.Errorf("auth.secret_key is required")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be > 0")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("intervals must not be empty")
	}
	for _, iv := range c.Intervals {
		if iv <= 0 {
			return fmt.Errorf("intervals must be positive, got %d", iv)
		}
	}
	for _, venue := range c.Venues {
		switch venue {
		case "binance", "okx", "sim":
		default:
			return fmt.Errorf("unknown venue %q (want binance, okx or sim)", venue)
		}
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.per_second and rate_limit.burst must be > 0")
	}
	return nil
}

// VenueConfigFor returns the endpoint config for a venue name.
func (c *Config) VenueConfigFor(name string) VenueConfig {
	switch name {
	case "binance":
		return c.Binance
	case "okx":
		return c.OKX
	case "sim":
		return c.Sim
	}
	return VenueConfig{}
}
