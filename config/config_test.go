package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/etnz/folio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folio.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, folio.Span{Years: 3}, cfg.Tax.HoldingPeriod)
	rules := cfg.Tax.Rules()
	assert.Equal(t, "CZK", rules.AnnualLimit.Currency())
	assert.Equal(t, "100000", rules.AnnualLimit.Amount().String())
	assert.Equal(t, "0.15", cfg.Tax.Withholding().String())
	assert.Equal(t, time.Hour, cfg.Market.Options().TTL)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
base_currency = "CZK"
ledger = "trades.json"

[tax]
holding_period = "1y6m"
annual_limit = 50000.5

[market]
cache_ttl = "30m"
lookback_days = 3

[providers]
exchanges = ["US"]

[server]
addr = ":9000"
refresh = ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "CZK", cfg.BaseCurrency)
	assert.Equal(t, "trades.json", cfg.Ledger)
	assert.Equal(t, folio.Span{Years: 1, Months: 6}, cfg.Tax.HoldingPeriod)
	assert.Equal(t, "50000.5", cfg.Tax.Rules().AnnualLimit.Amount().String())
	assert.Equal(t, "CZK", cfg.Tax.LimitCurrency, "unset keys keep their default")
	assert.Equal(t, 30*time.Minute, cfg.Market.CacheTTL.Duration)
	assert.Equal(t, 3, cfg.Market.Options().Lookback)
	assert.Equal(t, []string{"US"}, cfg.Providers.Exchanges)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Empty(t, cfg.Server.Refresh)
}

func TestLoad_Env(t *testing.T) {
	path := writeFile(t, `base_currency = "USD"`)
	t.Setenv("FOLIO_BASE_CURRENCY", "eur")
	t.Setenv("FOLIO_DB", ":memory:")
	t.Setenv("FOLIO_HOLDING_PERIOD", "2y")
	t.Setenv("EODHD_API_KEY", "demo")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, ":memory:", cfg.Store.Path)
	assert.Equal(t, folio.Span{Years: 2}, cfg.Tax.HoldingPeriod)
	assert.Equal(t, "demo", cfg.Providers.EODHDKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeFile(t, `base_currency = `))
	assert.ErrorContains(t, err, "failed to parse config file")

	_, err = Load(writeFile(t, "[tax]\nholding_period = \"three years\""))
	assert.Error(t, err)

	t.Setenv("FOLIO_TAX_LIMIT", "lots")
	_, err = Load("")
	assert.ErrorContains(t, err, "FOLIO_TAX_LIMIT")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"base currency", func(c *Config) { c.BaseCurrency = "XXY" }, "base_currency"},
		{"limit currency", func(c *Config) { c.Tax.LimitCurrency = "" }, "tax.limit_currency"},
		{"holding period", func(c *Config) { c.Tax.HoldingPeriod = folio.Span{Years: -1} }, "tax.holding_period"},
		{"withholding", func(c *Config) { c.Tax.DividendWithholding = 1.5 }, "tax.dividend_withholding"},
		{"lookback", func(c *Config) { c.Market.Lookback = -1 }, "market.lookback_days"},
		{"refresh", func(c *Config) { c.Server.Refresh = "every day" }, "server.refresh"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	cfg := Default()
	cfg.BaseCurrency = "ABC"
	cfg.Tax.AnnualLimit = -1
	err := cfg.Validate()
	assert.ErrorContains(t, err, "base_currency")
	assert.ErrorContains(t, err, "tax.annual_limit")
}
