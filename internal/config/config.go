// Package config provides configuration management using viper.
// It supports loading from YAML files, an optional .env file and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"kir-bot/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Game      GameConfig      `mapstructure:"game"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Offers    OffersConfig    `mapstructure:"offers"`
}

// BotConfig holds Telegram bot configuration.
// When WebhookURL is empty the bot uses long polling.
type BotConfig struct {
	Token         string        `mapstructure:"token"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookListen string        `mapstructure:"webhook_listen"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// GameConfig holds game rule configuration.
type GameConfig struct {
	// Scope is "group" (balances per chat) or "global" (one balance per user).
	Scope             string        `mapstructure:"scope"`
	PlayCooldown      time.Duration `mapstructure:"play_cooldown"`
	EmergencyCooldown time.Duration `mapstructure:"emergency_cooldown"`
	RandomCooldown    time.Duration `mapstructure:"random_cooldown"`
	TopLimit          int           `mapstructure:"top_limit"`
	// LockTimeout bounds how long a command waits for a busy player.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// NotifyConfig controls cooldown-expiry notifications.
type NotifyConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// OffersConfig controls loan and fight button offers.
type OffersConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory, if any, is loaded into the environment first.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g., BOT_TOKEN, DATABASE_HOST, GAME_SCOPE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Registered so that BOT_TOKEN is picked up by Unmarshal
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.webhook_url", "")
	v.SetDefault("bot.poll_timeout", "10s")
	v.SetDefault("bot.webhook_listen", "0.0.0.0:10000")

	// Database defaults
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "kirbot")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "kirbot")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Game defaults
	v.SetDefault("game.scope", string(model.ScopeGroup))
	v.SetDefault("game.play_cooldown", "12h")
	v.SetDefault("game.emergency_cooldown", "24h")
	v.SetDefault("game.random_cooldown", "24h")
	v.SetDefault("game.top_limit", 10)
	v.SetDefault("game.lock_timeout", "5s")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.send_timeout", "10s")

	v.SetDefault("offers.ttl", "10m")
	v.SetDefault("offers.capacity", 1024)
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch model.ScopeMode(c.Game.Scope) {
	case model.ScopeGroup, model.ScopeGlobal:
	default:
		return fmt.Errorf("invalid game.scope %q: want %q or %q", c.Game.Scope, model.ScopeGroup, model.ScopeGlobal)
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("invalid database.driver %q", c.Database.Driver)
	}

	if c.Offers.Capacity <= 0 {
		return fmt.Errorf("offers.capacity must be positive, got %d", c.Offers.Capacity)
	}
	if c.Game.TopLimit <= 0 {
		return fmt.Errorf("game.top_limit must be positive, got %d", c.Game.TopLimit)
	}

	type setting struct {
		key   string
		value time.Duration
	}
	durations := []setting{
		{"game.play_cooldown", c.Game.PlayCooldown},
		{"game.emergency_cooldown", c.Game.EmergencyCooldown},
		{"game.random_cooldown", c.Game.RandomCooldown},
		{"game.lock_timeout", c.Game.LockTimeout},
		{"offers.ttl", c.Offers.TTL},
	}
	if c.Notify.Enabled {
		durations = append(durations, setting{"notify.send_timeout", c.Notify.SendTimeout})
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.value)
		}
	}

	return nil
}

// ScopeMode returns the configured identity scoping mode.
func (c *Config) ScopeMode() model.ScopeMode {
	return model.ScopeMode(c.Game.Scope)
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
