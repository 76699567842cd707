// Package cmd implements the CLI application to evaluate a portfolio.
package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/folio"
	"github.com/etnz/folio/config"
	"github.com/etnz/folio/eodhd"
	"github.com/etnz/folio/insee"
	"github.com/etnz/folio/openfigi"
	"github.com/google/subcommands"
	"github.com/rs/zerolog"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&importCmd{}, "ledger")
	c.Register(&fmtCmd{}, "ledger")

	c.Register(&snapshotCmd{}, "reports")
	c.Register(&lotsCmd{}, "reports")
	c.Register(&historyCmd{}, "reports")
	c.Register(&taxCmd{}, "reports")
	c.Register(&commentCmd{}, "reports")

	c.Register(&searchCmd{}, "market")
	c.Register(&serveCmd{}, "server")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var (
	configFile = flag.String("config", "", "Path to the TOML configuration file")
	ledgerFile = flag.String("ledger", "", "Path to the ledger file, overrides the configuration")
	Verbose    = flag.Bool("v", false, "Log debug messages")
	rawOutput  = flag.Bool("raw", false, "Print reports as plain markdown")
)

// stdout receives the reports.
var stdout io.Writer = os.Stdout

// newGateway builds the market data gateway of the application.
var newGateway = func(cfg *config.Config, log zerolog.Logger) (folio.Gateway, error) {
	p := cfg.Providers
	if p.EODHDKey == "" {
		return nil, errors.New("EODHD API key is not set, use EODHD_API_KEY or providers.eodhd_key")
	}
	opts := []eodhd.Option{
		eodhd.WithBase(cfg.BaseCurrency),
		eodhd.WithLogger(log),
		eodhd.WithTimeout(p.Timeout.Duration),
	}
	if len(p.Exchanges) > 0 {
		opts = append(opts, eodhd.WithExchanges(p.Exchanges...))
	}
	if p.CacheDir != "" {
		opts = append(opts, eodhd.WithDiskCache(p.CacheDir))
	}
	gw := eodhd.New(p.EODHDKey, opts...)
	return openfigi.NewGateway(gw, openfigi.NewClient(p.OpenFIGIKey, log), nil), nil
}

// app holds what every command needs: the configuration and the logger.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	gw  folio.Gateway
}

// newLogger writes human readable logs on stderr.
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if *Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
}

// loadApp loads and validates the configuration.
func loadApp() (*app, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	if *ledgerFile != "" {
		cfg.Ledger = *ledgerFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &app{cfg: cfg, log: newLogger()}, nil
}

// decodeLedger reads the ledger file. A missing file is an empty ledger.
func (a *app) decodeLedger() (*folio.Ledger, error) {
	f, err := os.Open(a.cfg.Ledger)
	if errors.Is(err, fs.ErrNotExist) {
		a.log.Warn().Str("ledger", a.cfg.Ledger).Msg("ledger does not exist, using an empty ledger instead")
		return folio.NewLedger(a.cfg.BaseCurrency), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := folio.DecodeLedger(f, a.cfg.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", a.cfg.Ledger, err)
	}
	return l, nil
}

// encodeLedger replaces the ledger file with the canonical encoding of l.
func (a *app) encodeLedger(l *folio.Ledger) error {
	dir := filepath.Dir(a.cfg.Ledger)
	tmp, err := os.CreateTemp(dir, ".ledger-*")
	if err != nil {
		return fmt.Errorf("error creating ledger file in %q: %w", dir, err)
	}
	defer os.Remove(tmp.Name())
	if err := folio.EncodeLedger(tmp, l); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.cfg.Ledger)
}

// engine creates an engine with a fresh market: every call is its own
// evaluation scope.
func (a *app) engine() (*folio.Engine, error) {
	if a.gw == nil {
		gw, err := newGateway(a.cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.gw = gw
	}
	opts := a.cfg.Market.Options()
	opts.Logger = a.log
	market := folio.NewMarket(a.gw, a.cfg.BaseCurrency, opts)

	options := []folio.Option{
		folio.WithDividendWithholding(a.cfg.Tax.Withholding()),
		folio.WithConcurrency(a.cfg.Market.Concurrency),
		folio.WithLogger(a.log),
	}
	if s := a.cfg.Providers.CPISeries; s != "" {
		options = append(options, folio.WithInflation(insee.New(s,
			insee.WithLogger(a.log),
			insee.WithHTTPClient(&http.Client{Timeout: a.cfg.Providers.Timeout.Duration}),
		)))
	}
	return folio.NewEngine(market, options...), nil
}

// evaluation loads the app, its ledger and an engine, the common start of
// the report commands.
func evaluation() (*app, *folio.Ledger, *folio.Engine, error) {
	a, err := loadApp()
	if err != nil {
		return nil, nil, nil, err
	}
	l, err := a.decodeLedger()
	if err != nil {
		return nil, nil, nil, err
	}
	e, err := a.engine()
	if err != nil {
		return nil, nil, nil, err
	}
	return a, l, e, nil
}

// printMarkdown renders md for the terminal, or prints it as is with -raw.
func printMarkdown(md string) {
	if !*rawOutput {
		out, err := glamour.Render(md, "auto")
		if err == nil {
			md = out
		}
	}
	fmt.Fprint(stdout, md)
}
