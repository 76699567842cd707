// Package config loads the folio configuration: defaults, then a TOML file,
// then environment variables (a .env file in the working directory is read
// first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/etnz/folio"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the application configuration.
type Config struct {
	BaseCurrency string          `toml:"base_currency"`
	Ledger       string          `toml:"ledger"`
	Portfolio    string          `toml:"portfolio"` // name snapshots are stored under
	Tax          TaxConfig       `toml:"tax"`
	Market       MarketConfig    `toml:"market"`
	Providers    ProvidersConfig `toml:"providers"`
	Store        StoreConfig     `toml:"store"`
	Server       ServerConfig    `toml:"server"`
}

// TaxConfig holds the capital gains and dividend tax settings.
type TaxConfig struct {
	HoldingPeriod       folio.Span `toml:"holding_period"`
	AnnualLimit         float64    `toml:"annual_limit"`
	LimitCurrency       string     `toml:"limit_currency"`
	DividendWithholding float64    `toml:"dividend_withholding"` // 0.15 for 15%
}

// Rules returns the folio tax rules.
func (t TaxConfig) Rules() folio.TaxRules {
	return folio.TaxRules{
		HoldingPeriod: t.HoldingPeriod,
		AnnualLimit:   folio.M(decimal.NewFromFloat(t.AnnualLimit), t.LimitCurrency),
	}
}

// Withholding returns the dividend withholding rate.
func (t TaxConfig) Withholding() decimal.Decimal { return decimal.NewFromFloat(t.DividendWithholding) }

// MarketConfig tunes the lookups of an evaluation.
type MarketConfig struct {
	CacheSize   int      `toml:"cache_size"`
	CacheTTL    Duration `toml:"cache_ttl"`
	Retries     uint64   `toml:"retries"`
	Backoff     Duration `toml:"backoff"`
	Lookback    int      `toml:"lookback_days"`
	Concurrency int      `toml:"concurrency"`
}

// Options returns the folio market options.
func (m MarketConfig) Options() folio.MarketOptions {
	return folio.MarketOptions{
		CacheSize: m.CacheSize,
		TTL:       m.CacheTTL.Duration,
		Retries:   m.Retries,
		Backoff:   m.Backoff.Duration,
		Lookback:  m.Lookback,
	}
}

// ProvidersConfig holds the credentials and settings of the collaborators.
type ProvidersConfig struct {
	EODHDKey    string   `toml:"eodhd_key"`
	OpenFIGIKey string   `toml:"openfigi_key"`
	GeminiKey   string   `toml:"gemini_key"`
	Exchanges   []string `toml:"exchanges"`
	CacheDir    string   `toml:"cache_dir"` // on-disk http cache, disabled when empty
	CPISeries   string   `toml:"cpi_series"`
	Timeout     Duration `toml:"timeout"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Addr    string `toml:"addr"`
	Refresh string `toml:"refresh"` // cron schedule of the snapshot refresh, disabled when empty
}

// Duration is a time.Duration written like "1h30m" in the file.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		BaseCurrency: "EUR",
		Ledger:       "ledger.json",
		Portfolio:    "default",
		Tax: TaxConfig{
			HoldingPeriod:       folio.Span{Years: 3},
			AnnualLimit:         100000,
			LimitCurrency:       "CZK",
			DividendWithholding: 0.15,
		},
		Market: MarketConfig{
			CacheSize:   1024,
			CacheTTL:    Duration{time.Hour},
			Retries:     2,
			Backoff:     Duration{200 * time.Millisecond},
			Lookback:    5,
			Concurrency: 8,
		},
		Providers: ProvidersConfig{
			Exchanges: []string{"XETRA", "US", "EUFUND"},
			Timeout:   Duration{10 * time.Second},
		},
		Store:  StoreConfig{Path: "folio.db"},
		Server: ServerConfig{Addr: "localhost:8080", Refresh: "0 18 * * 1-5"},
	}
}

// Load reads the configuration with priority: defaults, file, environment.
// An empty path skips the file, a missing .env file is ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies FOLIO_* and provider key environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FOLIO_BASE_CURRENCY"); v != "" {
		cfg.BaseCurrency = strings.ToUpper(v)
	}
	if v := os.Getenv("FOLIO_LEDGER"); v != "" {
		cfg.Ledger = v
	}
	if v := os.Getenv("FOLIO_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FOLIO_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FOLIO_HOLDING_PERIOD"); v != "" {
		s, err := folio.ParseSpan(v)
		if err != nil {
			return fmt.Errorf("FOLIO_HOLDING_PERIOD: %w", err)
		}
		cfg.Tax.HoldingPeriod = s
	}
	if v := os.Getenv("FOLIO_TAX_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FOLIO_TAX_LIMIT: %w", err)
		}
		cfg.Tax.AnnualLimit = f
	}
	if v := os.Getenv("EODHD_API_KEY"); v != "" {
		cfg.Providers.EODHDKey = v
	}
	if v := os.Getenv("OPENFIGI_API_KEY"); v != "" {
		cfg.Providers.OpenFIGIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Providers.GeminiKey = v
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	currency := func(field, code string) {
		if money.GetCurrency(code) == nil {
			errs = append(errs, fmt.Errorf("%s: unknown currency %q", field, code))
		}
	}
	currency("base_currency", c.BaseCurrency)
	currency("tax.limit_currency", c.Tax.LimitCurrency)
	if c.Tax.HoldingPeriod.Years < 0 || c.Tax.HoldingPeriod.Months < 0 || c.Tax.HoldingPeriod.Days < 0 {
		errs = append(errs, fmt.Errorf("tax.holding_period: negative span %s", c.Tax.HoldingPeriod))
	}
	if c.Tax.AnnualLimit < 0 {
		errs = append(errs, fmt.Errorf("tax.annual_limit: negative limit %v", c.Tax.AnnualLimit))
	}
	if c.Tax.DividendWithholding < 0 || c.Tax.DividendWithholding >= 1 {
		errs = append(errs, fmt.Errorf("tax.dividend_withholding: %v not in [0, 1)", c.Tax.DividendWithholding))
	}
	if c.Market.Lookback < 0 {
		errs = append(errs, fmt.Errorf("market.lookback_days: negative %d", c.Market.Lookback))
	}
	if c.Market.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("market.concurrency: negative %d", c.Market.Concurrency))
	}
	if c.Server.Refresh != "" {
		if _, err := cron.ParseStandard(c.Server.Refresh); err != nil {
			errs = append(errs, fmt.Errorf("server.refresh: %w", err))
		}
	}
	return errors.Join(errs...)
}
