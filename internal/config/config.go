// Package config loads and validates the bot configuration from YAML and
// POLYCOPY_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thlokol/polymarket-copy-trading-bot/internal/buffer"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/execution"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/feed"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/positions"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/sizing"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/slippage"
	"github.com/thlokol/polymarket-copy-trading-bot/internal/storage"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel string

	PollInterval      time.Duration
	ElectionWindow    time.Duration
	StaleLeaderMaxAge time.Duration

	AggregationEnabled bool

	// UseMemoryStore swaps Postgres for in-process state. Dev only: leader
	// uniqueness then holds within a single process.
	UseMemoryStore bool

	// PaperTrading selects the simulated gateway.
	PaperTrading            bool
	PaperStartingBalanceUSD float64

	APIListenAddr string

	Feed      feed.Config
	Positions positions.Config
	Storage   storage.Config
	Buffer    buffer.Config
	Sizing    sizing.Config
	Slippage  slippage.Config
	CLOB      execution.CLOBConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval", "500ms")
	v.SetDefault("election_window", "2s")
	v.SetDefault("stale_leader_max_age", "24h")
	v.SetDefault("aggregation.enabled", true)
	v.SetDefault("aggregation.window", "5m")
	v.SetDefault("aggregation.min_order_notional_usd", 1.0)
	v.SetDefault("use_memory_store", false)
	v.SetDefault("paper_trading", true)
	v.SetDefault("paper_starting_balance_usd", 1000.0)
	v.SetDefault("api.listen_addr", ":8086")

	v.SetDefault("feed.base_url", "https://data-api.polymarket.com")
	v.SetDefault("feed.page_limit", 100)
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.fetch_concurrency", 4)
	v.SetDefault("positions.base_url", "https://data-api.polymarket.com")
	v.SetDefault("positions.request_timeout", "10s")

	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 5432)
	v.SetDefault("storage.user", "copybot")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.database", "copybot")
	v.SetDefault("storage.sslmode", "disable")

	v.SetDefault("sizing.strategy", "PERCENTAGE")
	v.SetDefault("sizing.copy_size", 10.0)
	v.SetDefault("sizing.trade_multiplier", 1.0)
	v.SetDefault("sizing.tiered_multipliers", "")
	v.SetDefault("sizing.min_order_size_usd", 1.0)
	v.SetDefault("sizing.max_order_size_usd", 100.0)
	v.SetDefault("sizing.max_position_size_usd", 0.0)
	v.SetDefault("sizing.adaptive_reference_usd", 500.0)
	v.SetDefault("sizing.adaptive_max_boost", 3.0)

	v.SetDefault("slippage.death_threshold", 0.95)
	v.SetDefault("slippage.high_threshold", 0.80)
	v.SetDefault("slippage.zebra_threshold", 0.20)
	v.SetDefault("slippage.high_pad", 0.01)
	v.SetDefault("slippage.combat_pad", 0.03)
	v.SetDefault("slippage.zebra_ratio", 1.2)
	v.SetDefault("slippage.absolute_ceiling", 0.99)

	v.SetDefault("clob.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob.request_timeout", "15s")
}

// Load reads the config file at path (optional when empty), applies
// environment overrides and validates the result. Invalid configuration is
// an error, never silently defaulted.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POLYCOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		LogLevel:                v.GetString("log_level"),
		PollInterval:            v.GetDuration("poll_interval"),
		ElectionWindow:          v.GetDuration("election_window"),
		StaleLeaderMaxAge:       v.GetDuration("stale_leader_max_age"),
		AggregationEnabled:      v.GetBool("aggregation.enabled"),
		UseMemoryStore:          v.GetBool("use_memory_store"),
		PaperTrading:            v.GetBool("paper_trading"),
		PaperStartingBalanceUSD: v.GetFloat64("paper_starting_balance_usd"),
		APIListenAddr:           v.GetString("api.listen_addr"),

		Feed: feed.Config{
			BaseURL:          v.GetString("feed.base_url"),
			Wallets:          v.GetStringSlice("feed.wallets"),
			PageLimit:        v.GetInt("feed.page_limit"),
			RequestTimeout:   v.GetDuration("feed.request_timeout"),
			FetchConcurrency: v.GetInt("feed.fetch_concurrency"),
		},
		Positions: positions.Config{
			BaseURL:        v.GetString("positions.base_url"),
			RequestTimeout: v.GetDuration("positions.request_timeout"),
		},
		Storage: storage.Config{
			Host:     v.GetString("storage.host"),
			Port:     v.GetInt("storage.port"),
			User:     v.GetString("storage.user"),
			Password: v.GetString("storage.password"),
			Database: v.GetString("storage.database"),
			SSLMode:  v.GetString("storage.sslmode"),
		},
		Buffer: buffer.Config{
			Window:              v.GetDuration("aggregation.window"),
			MinOrderNotionalUSD: v.GetFloat64("aggregation.min_order_notional_usd"),
		},
		Sizing: sizing.Config{
			Strategy:             sizing.Strategy(v.GetString("sizing.strategy")),
			CopySize:             v.GetFloat64("sizing.copy_size"),
			TradeMultiplier:      v.GetFloat64("sizing.trade_multiplier"),
			MinOrderSizeUSD:      v.GetFloat64("sizing.min_order_size_usd"),
			MaxOrderSizeUSD:      v.GetFloat64("sizing.max_order_size_usd"),
			MaxPositionSizeUSD:   v.GetFloat64("sizing.max_position_size_usd"),
			AdaptiveReferenceUSD: v.GetFloat64("sizing.adaptive_reference_usd"),
			AdaptiveMaxBoost:     v.GetFloat64("sizing.adaptive_max_boost"),
		},
		Slippage: slippage.Config{
			DeathThreshold:  v.GetFloat64("slippage.death_threshold"),
			HighThreshold:   v.GetFloat64("slippage.high_threshold"),
			ZebraThreshold:  v.GetFloat64("slippage.zebra_threshold"),
			HighPad:         v.GetFloat64("slippage.high_pad"),
			CombatPad:       v.GetFloat64("slippage.combat_pad"),
			ZebraRatio:      v.GetFloat64("slippage.zebra_ratio"),
			AbsoluteCeiling: v.GetFloat64("slippage.absolute_ceiling"),
		},
		CLOB: execution.CLOBConfig{
			BaseURL:        v.GetString("clob.base_url"),
			APIKey:         v.GetString("clob.api_key"),
			APISecret:      v.GetString("clob.api_secret"),
			Passphrase:     v.GetString("clob.passphrase"),
			FunderAddress:  v.GetString("clob.funder_address"),
			RequestTimeout: v.GetDuration("clob.request_timeout"),
		},
	}

	if spec := v.GetString("sizing.tiered_multipliers"); spec != "" {
		tiers, err := sizing.ParseTieredMultipliers(spec)
		if err != nil {
			return nil, fmt.Errorf("sizing.tiered_multipliers: %w", err)
		}
		cfg.Sizing.TieredMultipliers = tiers
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var violations []string

	if c.PollInterval <= 0 {
		violations = append(violations, "poll_interval must be positive")
	}
	if c.ElectionWindow < time.Second {
		violations = append(violations, "election_window must be at least one second")
	}
	if c.StaleLeaderMaxAge <= 0 {
		violations = append(violations, "stale_leader_max_age must be positive")
	}
	if len(c.Feed.Wallets) == 0 {
		violations = append(violations, "feed.wallets must list at least one watched wallet")
	}
	if c.Buffer.MinOrderNotionalUSD <= 0 {
		violations = append(violations, "aggregation.min_order_notional_usd must be positive")
	}
	violations = append(violations, sizing.ValidateStrategyConfig(c.Sizing)...)

	if len(violations) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(violations, "; "))
	}
	return nil
}
