// Package eodhd is a folio.Gateway backed by the EOD Historical Data API.
package eodhd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/etnz/folio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the root of the EODHD API.
const DefaultBaseURL = "https://eodhd.com/api"

// Client implements folio.Gateway.
type Client struct {
	apiKey    string
	baseURL   string
	base      string   // currency FX rates are expressed in
	exchanges []string // exchanges searched for an ISIN, in order
	cacheDir  string
	timeout   time.Duration
	daily     *http.Client
	monthly   *http.Client
	log       zerolog.Logger

	mu         sync.Mutex
	currencies map[string]string // ticker → trading currency
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client to another server, mostly for tests.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") } }

// WithBase sets the currency FX rates are expressed in, EUR by default.
func WithBase(currency string) Option { return func(c *Client) { c.base = currency } }

// WithExchanges sets the exchanges searched when resolving an ISIN.
func WithExchanges(codes ...string) Option { return func(c *Client) { c.exchanges = codes } }

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithDiskCache keeps answers in dir, daily for quotes and monthly for exchange listings.
func WithDiskCache(dir string) Option { return func(c *Client) { c.cacheDir = dir } }

// WithTimeout bounds every request, 10s by default.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New returns a Client using apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		base:       "EUR",
		exchanges:  []string{"XETRA", "US", "EUFUND"},
		timeout:    10 * time.Second,
		log:        zerolog.Nop(),
		currencies: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "eodhd").Logger()
	c.daily = &http.Client{Timeout: c.timeout}
	c.monthly = &http.Client{Timeout: c.timeout}
	if c.cacheDir != "" {
		c.daily.Transport = &diskCache{base: http.DefaultTransport, dir: c.cacheDir, period: folio.Daily, log: c.log}
		c.monthly.Transport = &diskCache{base: http.DefaultTransport, dir: c.cacheDir, period: folio.Monthly, log: c.log}
	}
	return c
}

var _ folio.Gateway = (*Client)(nil)

// url builds an API address for path, with the token and json format.
func (c *Client) url(path string, query ...string) string {
	addr := fmt.Sprintf("%s/%s?fmt=json&api_token=%s", c.baseURL, path, c.apiKey)
	for i := 0; i+1 < len(query); i += 2 {
		if query[i+1] != "" {
			addr += "&" + query[i] + "=" + query[i+1]
		}
	}
	return addr
}

func (c *Client) setCurrency(ticker, currency string) {
	if currency == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currencies[ticker] = strings.ToUpper(currency)
}

// currency returns the trading currency of ticker: as seen while resolving
// it, from its fundamentals, or guessed from its exchange.
func (c *Client) currency(ctx context.Context, ticker string) string {
	c.mu.Lock()
	cur, ok := c.currencies[ticker]
	c.mu.Unlock()
	if ok {
		return cur
	}
	if g, err := c.fetchGeneral(ctx, ticker); err == nil && g.Currency != "" {
		c.setCurrency(ticker, g.Currency)
		return strings.ToUpper(g.Currency)
	}
	_, exchange, _ := strings.Cut(ticker, ".")
	if cur, ok := exchangeCurrencies[exchange]; ok {
		return cur
	}
	return c.base
}

var exchangeCurrencies = map[string]string{
	"US":     "USD",
	"XETRA":  "EUR",
	"F":      "EUR",
	"PA":     "EUR",
	"AS":     "EUR",
	"EUFUND": "EUR",
	"LSE":    "GBP",
	"SW":     "CHF",
	"PR":     "CZK",
}

// Price returns the close of ticker on 'on', or the latest close when on is zero.
func (c *Client) Price(ctx context.Context, ticker string, on folio.Date) (folio.Money, error) {
	from, to := on, on
	if on.IsZero() {
		to = folio.Today()
		from = to.Add(-10)
	}
	bars, err := c.fetchEOD(ctx, ticker, from, to)
	if err != nil {
		return folio.Money{}, err
	}
	if len(bars) == 0 {
		return folio.Money{}, fmt.Errorf("%w: no price for %s on %s", folio.ErrLookupUnavailable, ticker, on)
	}
	last := bars[len(bars)-1]
	if !on.IsZero() && last.Date != on {
		return folio.Money{}, fmt.Errorf("%w: no price for %s on %s", folio.ErrLookupUnavailable, ticker, on)
	}
	return folio.M(last.Close, c.currency(ctx, ticker)), nil
}

// FXRate returns the value of one unit of currency in the base currency.
//
// The close of eodhd forex bars is unreliable, it is most of the time equal to
// the open. The open of the next day is closer to the truth, so that's what
// is used for a given day.
func (c *Client) FXRate(ctx context.Context, currency string, on folio.Date) (decimal.Decimal, error) {
	if currency == c.base {
		return decimal.NewFromInt(1), nil
	}
	ticker := fmt.Sprintf("%s%s.FOREX", currency, c.base)
	if on.IsZero() {
		bars, err := c.fetchEOD(ctx, ticker, folio.Today().Add(-10), folio.Today())
		if err != nil {
			return decimal.Zero, err
		}
		if len(bars) == 0 {
			return decimal.Zero, fmt.Errorf("%w: no %s rate", folio.ErrLookupUnavailable, currency)
		}
		return bars[len(bars)-1].Close, nil
	}
	next := on.Add(1)
	bars, err := c.fetchEOD(ctx, ticker, next, next)
	if err != nil {
		return decimal.Zero, err
	}
	if len(bars) == 0 || bars[0].Date != next || !bars[0].Open.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no %s rate on %s", folio.ErrLookupUnavailable, currency, on)
	}
	return bars[0].Open, nil
}

// Dividends returns the dividends of ticker with an ex-date on or after since.
func (c *Client) Dividends(ctx context.Context, ticker string, since folio.Date) ([]folio.Dividend, error) {
	raw, err := c.fetchDividends(ctx, ticker, since)
	if err != nil {
		return nil, err
	}
	divs := make([]folio.Dividend, 0, len(raw))
	for _, d := range raw {
		cur := strings.ToUpper(d.Currency)
		if cur == "" {
			cur = c.currency(ctx, ticker)
		}
		divs = append(divs, folio.Dividend{ExDate: d.Date, Amount: folio.M(d.Value, cur)})
	}
	return divs, nil
}

// Classify returns the sector and country of ticker from its fundamentals.
func (c *Client) Classify(ctx context.Context, ticker string) (folio.Classification, error) {
	g, err := c.fetchGeneral(ctx, ticker)
	if err != nil {
		return folio.Classification{}, err
	}
	if g.Sector == "" && g.Country == "" {
		return folio.Classification{}, fmt.Errorf("%w: no classification for %s", folio.ErrLookupUnavailable, ticker)
	}
	return folio.Classification{Sector: g.Sector, Country: g.Country}, nil
}
