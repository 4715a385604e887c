// Package config loads the papertrader configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/rules"
	"github.com/rustyeddy/papertrader/sim"
)

// Config represents the complete papertrader configuration
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Rules   []rules.Spec  `json:"rules,omitempty" yaml:"rules,omitempty"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// AccountConfig funds a new ledger. InitialCash is ignored once the store
// holds a ledger.
type AccountConfig struct {
	ID          string          `json:"id" yaml:"id"`
	InitialCash decimal.Decimal `json:"initial_cash" yaml:"initial_cash"`
}

// EngineConfig holds the execution options.
type EngineConfig struct {
	StalenessWindowSeconds int             `json:"staleness_window_seconds" yaml:"staleness_window_seconds"`
	SlippageModel          string          `json:"slippage_model" yaml:"slippage_model"` // none | fixed_bps | fixed_spread
	SlippageBps            decimal.Decimal `json:"slippage_bps,omitempty" yaml:"slippage_bps,omitempty"`
	SlippageSpread         decimal.Decimal `json:"slippage_spread,omitempty" yaml:"slippage_spread,omitempty"`
	CommissionPerTrade     decimal.Decimal `json:"commission_per_trade" yaml:"commission_per_trade"`
	ShortSellingEnabled    bool            `json:"short_selling_enabled" yaml:"short_selling_enabled"`
	DefaultCooldownSeconds int             `json:"default_cooldown_seconds" yaml:"default_cooldown_seconds"`
	Universe               []string        `json:"universe,omitempty" yaml:"universe,omitempty"`
}

// FeedConfig selects the quote source.
type FeedConfig struct {
	Source      string   `json:"source" yaml:"source"` // poll | stream | replay
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	Interval    string   `json:"interval,omitempty" yaml:"interval,omitempty"` // e.g. "15s"
	Symbols     []string `json:"symbols" yaml:"symbols"`
	APIKey      string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Concurrency int      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	ReplayFile  string   `json:"replay_file,omitempty" yaml:"replay_file,omitempty"`
	ReplaySpeed float64  `json:"replay_speed,omitempty" yaml:"replay_speed,omitempty"`
}

// StoreConfig selects where the ledger lives.
type StoreConfig struct {
	Type     string `json:"type" yaml:"type"` // sqlite | postgres | memory
	DBPath   string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	DSN      string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	MaxConns int    `json:"max_conns,omitempty" yaml:"max_conns,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Environment overrides, applied after the file is parsed.
const (
	EnvAPIKey   = "PAPERTRADER_API_KEY"
	EnvDSN      = "PAPERTRADER_DSN"
	EnvLogLevel = "PAPERTRADER_LOG_LEVEL"
)

// Load reads path, or starts from Default when path is empty. Environment
// overrides apply either way.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	loadDotEnv(".env")
	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file. A .env file
// next to it (or in the working directory) is loaded first, and ${VAR}
// references in the file are expanded from the environment.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal([]byte(expanded), cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Load(path)
		return
	}
	_ = godotenv.Load()
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv(EnvDSN); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Account.InitialCash.IsPositive() {
		return fmt.Errorf("account.initial_cash must be positive")
	}

	e := c.Engine
	if e.StalenessWindowSeconds <= 0 {
		return fmt.Errorf("engine.staleness_window_seconds must be positive")
	}
	if e.CommissionPerTrade.IsNegative() {
		return fmt.Errorf("engine.commission_per_trade must be >= 0")
	}
	if e.DefaultCooldownSeconds < 0 {
		return fmt.Errorf("engine.default_cooldown_seconds must be >= 0")
	}
	if err := c.Slippage().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	for _, s := range e.Universe {
		if err := market.ValidateSymbol(market.NormalizeSymbol(s)); err != nil {
			return fmt.Errorf("engine.universe: %w", err)
		}
	}

	f := c.Feed
	switch f.Source {
	case "poll":
		if _, err := c.FeedInterval(); err != nil {
			return err
		}
	case "stream":
		if f.URL == "" {
			return fmt.Errorf("feed.url required for stream source")
		}
	case "replay":
		if f.ReplayFile == "" {
			return fmt.Errorf("feed.replay_file required for replay source")
		}
	default:
		return fmt.Errorf("feed.source must be 'poll', 'stream' or 'replay'")
	}
	if f.Source != "replay" && len(f.Symbols) == 0 {
		return fmt.Errorf("feed.symbols is required")
	}
	for _, s := range f.Symbols {
		if err := market.ValidateSymbol(market.NormalizeSymbol(s)); err != nil {
			return fmt.Errorf("feed.symbols: %w", err)
		}
	}
	if f.Concurrency < 0 {
		return fmt.Errorf("feed.concurrency must be >= 0")
	}

	if _, err := c.RuleSet(); err != nil {
		return err
	}

	switch c.Store.Type {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("store db_path required for SQLite type")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn required for Postgres type")
		}
	case "memory":
	default:
		return fmt.Errorf("store.type must be 'sqlite', 'postgres' or 'memory'")
	}
	return nil
}

// StalenessWindow is the engine's quote staleness bound.
func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.Engine.StalenessWindowSeconds) * time.Second
}

func (c *Config) DefaultCooldown() time.Duration {
	return time.Duration(c.Engine.DefaultCooldownSeconds) * time.Second
}

func (c *Config) Slippage() sim.Slippage {
	return sim.Slippage{
		Model:  sim.SlippageModel(c.Engine.SlippageModel),
		Bps:    c.Engine.SlippageBps,
		Spread: c.Engine.SlippageSpread,
	}
}

// FeedInterval parses feed.interval; empty means the poller default.
func (c *Config) FeedInterval() (time.Duration, error) {
	if c.Feed.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Feed.Interval)
	if err != nil {
		return 0, fmt.Errorf("feed.interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("feed.interval must be positive")
	}
	return d, nil
}

// RuleSet builds the configured rules, rejecting duplicate ids.
func (c *Config) RuleSet() ([]rules.Rule, error) {
	seen := map[string]bool{}
	out := make([]rules.Rule, 0, len(c.Rules))
	for i, s := range c.Rules {
		r, err := s.Rule()
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rules[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

// Symbols is every symbol the feed should watch: feed.symbols plus the
// symbols of configured rules.
func (c *Config) Symbols() []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		s = market.NormalizeSymbol(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range c.Feed.Symbols {
		add(s)
	}
	for _, r := range c.Rules {
		add(r.Symbol)
	}
	return out
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:          "PAPER-001",
			InitialCash: decimal.NewFromInt(100000),
		},
		Engine: EngineConfig{
			StalenessWindowSeconds: int(market.DefaultStalenessWindow / time.Second),
			SlippageModel:          string(sim.SlippageNone),
			CommissionPerTrade:     decimal.Zero,
			DefaultCooldownSeconds: int(rules.DefaultCooldown / time.Second),
		},
		Feed: FeedConfig{
			Source:      "poll",
			Interval:    "15s",
			Symbols:     []string{"AAPL", "MSFT", "SPY"},
			Concurrency: 4,
		},
		Store: StoreConfig{
			Type:   "sqlite",
			DBPath: "./papertrader.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
