// Package config loads peer configuration from a YAML file with
// OUROBOROS_-prefixed environment overrides, mirroring the teacher
// pack's pkg/config.Load pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the unified configuration for an ouroboros peer.
type Config struct {
	Bearer struct {
		Network string `mapstructure:"network"` // "tcp" or "unix"
		Address string `mapstructure:"address"`
	} `mapstructure:"bearer"`

	Handshake struct {
		NetworkMagic uint32        `mapstructure:"network_magic"`
		NodeToClient bool          `mapstructure:"node_to_client"`
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"handshake"`

	KeepAlive struct {
		Period  time.Duration `mapstructure:"period"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"keepalive"`

	LocalStateQuery struct {
		AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	} `mapstructure:"local_state_query"`

	Channel struct {
		OutboundCap int `mapstructure:"outbound_cap"`
		HighWater   int `mapstructure:"high_water"`
	} `mapstructure:"channel"`

	TxSubmission struct {
		AnnouncedWindowMax uint16 `mapstructure:"announced_window_max"`
	} `mapstructure:"tx_submission"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Defaults mirrors the package-level constants scattered across
// internal/handshake, internal/keepalive, and internal/peer so a zero
// Config still produces a working peer.
func Defaults() Config {
	var c Config
	c.Bearer.Network = "tcp"
	c.Handshake.NetworkMagic = 764824073 // mainnet
	c.Handshake.Timeout = 30 * time.Second
	c.KeepAlive.Period = 10 * time.Second
	c.KeepAlive.Timeout = 60 * time.Second
	c.LocalStateQuery.AcquireTimeout = 10 * time.Second
	c.Channel.OutboundCap = 1 << 20 // 1 MiB
	c.Channel.HighWater = 1 << 19
	c.TxSubmission.AnnouncedWindowMax = 100
	c.Logging.Level = "info"
	return c
}

// configKeys lists every mapstructure key path so BindEnv can register
// them explicitly: viper's AutomaticEnv only resolves keys it already
// knows about, which an Unmarshal into an unpopulated struct does not
// supply on its own.
var configKeys = []string{
	"bearer.network", "bearer.address",
	"handshake.network_magic", "handshake.node_to_client", "handshake.timeout",
	"keepalive.period", "keepalive.timeout",
	"local_state_query.acquire_timeout",
	"channel.outbound_cap", "channel.high_water",
	"tx_submission.announced_window_max",
	"logging.level",
}

// Load reads config/default.yaml, merges config/<env>.yaml on top when
// env is non-empty, then applies OUROBOROS_-prefixed environment
// overrides (with .env picked up first via godotenv, for local
// development). Missing files fall back to Defaults().
func Load(env string) (Config, error) {
	cfg := Defaults()

	_ = godotenv.Load() // best effort; absent .env is not an error

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("config: read default: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return cfg, fmt.Errorf("config: merge %s: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("OUROBOROS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration using the OUROBOROS_ENV environment
// variable to select the overlay file, defaulting to no overlay.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("OUROBOROS_ENV"))
}
