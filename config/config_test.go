package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/rules"
	"github.com/rustyeddy/papertrader/sim"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, "100000", cfg.Account.InitialCash.String())
	assert.Equal(t, 60*time.Second, cfg.StalenessWindow())
	assert.Equal(t, rules.DefaultCooldown, cfg.DefaultCooldown())
	assert.Equal(t, sim.SlippageNone, cfg.Slippage().Model)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mod    func(*Config)
		errMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"zero cash", func(c *Config) { c.Account.InitialCash = decimal.Zero }, "account.initial_cash must be positive"},
		{"zero staleness", func(c *Config) { c.Engine.StalenessWindowSeconds = 0 }, "staleness_window_seconds"},
		{"negative commission", func(c *Config) { c.Engine.CommissionPerTrade = decimal.NewFromInt(-1) }, "commission_per_trade"},
		{"negative cooldown", func(c *Config) { c.Engine.DefaultCooldownSeconds = -1 }, "default_cooldown_seconds"},
		{"unknown slippage", func(c *Config) { c.Engine.SlippageModel = "random" }, "unknown slippage model"},
		{"bad universe", func(c *Config) { c.Engine.Universe = []string{"A B"} }, "engine.universe"},
		{"unknown source", func(c *Config) { c.Feed.Source = "carrier-pigeon" }, "feed.source"},
		{"bad interval", func(c *Config) { c.Feed.Interval = "soon" }, "feed.interval"},
		{"stream without url", func(c *Config) { c.Feed.Source = "stream" }, "feed.url"},
		{"replay without file", func(c *Config) { c.Feed.Source = "replay" }, "feed.replay_file"},
		{"no symbols", func(c *Config) { c.Feed.Symbols = nil }, "feed.symbols"},
		{"bad rule", func(c *Config) {
			c.Rules = []rules.Spec{{ID: "r", Symbol: "AAPL", Trigger: rules.TriggerSpec{Type: "nope"}}}
		}, "rules[0]"},
		{"duplicate rule", func(c *Config) {
			s := rules.Spec{
				ID:      "r",
				Symbol:  "AAPL",
				Trigger: rules.TriggerSpec{Type: "price_threshold", Op: "below", Level: decimal.NewFromInt(90)},
				Action:  rules.ActionSpec{Side: "buy", Quantity: 1},
			}
			c.Rules = []rules.Spec{s, s}
		}, "duplicate id"},
		{"unknown store", func(c *Config) { c.Store.Type = "csv" }, "store.type"},
		{"sqlite without path", func(c *Config) { c.Store.DBPath = "" }, "db_path"},
		{"postgres without dsn", func(c *Config) { c.Store.Type = "postgres" }, "dsn"},
		{"memory store", func(c *Config) { c.Store = StoreConfig{Type: "memory"} }, ""},
		{"replay needs no symbols", func(c *Config) {
			c.Feed = FeedConfig{Source: "replay", ReplayFile: "quotes.csv"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name string
		ext  string
	}{
		{"json format", ".json"},
		{"yaml format", ".yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Engine.CommissionPerTrade = decimal.RequireFromString("0.65")
			path := filepath.Join(tmpDir, "test"+tt.ext)

			require.NoError(t, cfg.SaveToFile(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadFromFile(path)
			require.NoError(t, err)

			assert.True(t, cfg.Account.InitialCash.Equal(loaded.Account.InitialCash))
			assert.Equal(t, "0.65", loaded.Engine.CommissionPerTrade.String())
			assert.Equal(t, cfg.Feed.Symbols, loaded.Feed.Symbols)
			assert.Equal(t, cfg.Store, loaded.Store)
		})
	}
}

func TestLoadYAMLWithRulesAndEnv(t *testing.T) {
	t.Setenv("PT_TEST_DB", "/tmp/pt-test.db")
	t.Setenv(EnvAPIKey, "from-env")

	src := `
account:
  initial_cash: 25000
engine:
  staleness_window_seconds: 30
  slippage_model: fixed_bps
  slippage_bps: 5
  commission_per_trade: 1
  short_selling_enabled: true
feed:
  source: poll
  interval: 5s
  symbols: [aapl]
  api_key: in-file
rules:
  - id: dip
    symbol: msft
    trigger: {type: price_threshold, op: below, level: 390}
    action: {side: buy, quantity: 5}
store:
  type: sqlite
  db_path: ${PT_TEST_DB}
log:
  level: debug
`
	path := filepath.Join(t.TempDir(), "papertrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "25000", cfg.Account.InitialCash.String())
	assert.Equal(t, 30*time.Second, cfg.StalenessWindow())
	assert.Equal(t, sim.SlippageFixedBps, cfg.Slippage().Model)
	assert.Equal(t, "5", cfg.Slippage().Bps.String())
	assert.True(t, cfg.Engine.ShortSellingEnabled)
	assert.Equal(t, "/tmp/pt-test.db", cfg.Store.DBPath)
	assert.Equal(t, "from-env", cfg.Feed.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)

	iv, err := cfg.FeedInterval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, iv)

	rs, err := cfg.RuleSet()
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "MSFT", rs[0].Symbol)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Symbols())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PT_DOTENV_DSN=postgres://u:p@localhost/pt\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PT_DOTENV_DSN") })

	src := `{"account":{"initial_cash":"1000"},"store":{"type":"postgres","dsn":"${PT_DOTENV_DSN}"}}`
	path := filepath.Join(dir, "papertrader.json")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/pt", cfg.Store.DSN)
	assert.Equal(t, "1000", cfg.Account.InitialCash.String())
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account: [\n"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestFeedIntervalDefault(t *testing.T) {
	cfg := Default()
	cfg.Feed.Interval = ""
	d, err := cfg.FeedInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, Default().Feed.Symbols, cfg.Feed.Symbols)
}
