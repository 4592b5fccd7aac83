// Package config loads and validates the rakubot TOML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultStatusAddr     = "127.0.0.1:8090"
	DefaultModelName      = "rakutenai"
	DefaultTimeoutSeconds = 60
	DefaultMaxMessageLen  = 1500
	DefaultContextWindow  = 10
	DefaultTypingInterval = 7
	DefaultMarketURL      = "wss://wbs-api.mexc.com/ws"
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Discord DiscordConfig `toml:"discord"`
	Rakuten RakutenConfig `toml:"rakuten"`
	Chat    ChatConfig    `toml:"chat"`
	Status  StatusConfig  `toml:"status"`
	Market  MarketConfig  `toml:"market"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type DiscordConfig struct {
	Token string `toml:"token" validate:"required"`
}

type RakutenConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gt=0"`
	Model          string `toml:"model" validate:"required"`
}

type ChatConfig struct {
	MaxMessageLen  int    `toml:"max_message_len" validate:"gt=0"`
	ContextWindow  int    `toml:"context_window" validate:"gt=0"`
	TypingInterval int    `toml:"typing_interval" validate:"gt=0"`
	SystemContext  string `toml:"system_context"`
}

type StatusConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

type MarketConfig struct {
	Enabled           bool     `toml:"enabled"`
	URL               string   `toml:"url" validate:"required_if=Enabled true,omitempty,url"`
	Channels          []string `toml:"channels"`
	AnnounceChannelID string   `toml:"announce_channel_id"`
}

// Load reads the config file at path (DefaultConfigPath when empty), layering
// it over built-in defaults. DISCORD_TOKEN in the environment overrides the
// configured bot token. The result is validated before being returned.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Rakuten: RakutenConfig{
			TimeoutSeconds: DefaultTimeoutSeconds,
			Model:          DefaultModelName,
		},
		Chat: ChatConfig{
			MaxMessageLen:  DefaultMaxMessageLen,
			ContextWindow:  DefaultContextWindow,
			TypingInterval: DefaultTypingInterval,
		},
		Status: StatusConfig{
			Addr: DefaultStatusAddr,
		},
		Market: MarketConfig{
			URL: DefaultMarketURL,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
