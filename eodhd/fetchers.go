package eodhd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/folio"
	"github.com/shopspring/decimal"
)

// bar is one day of the eod endpoint.
//
//	{"date": "2024-02-13", "open": 675.066, "high": 684.219, "low": 648.659,
//	 "close": 668.445, "adjusted_close": 67.705, "volume": 0}
type bar struct {
	Date  folio.Date      `json:"date"`
	Open  decimal.Decimal `json:"open"`
	Close decimal.Decimal `json:"close"`
}

// fetchEOD returns the daily bars of ticker, bounds included.
func (c *Client) fetchEOD(ctx context.Context, ticker string, from, to folio.Date) ([]bar, error) {
	addr := c.url("eod/"+url.PathEscape(ticker), "from", from.String(), "to", to.String())
	var bars []bar
	if err := jwget(ctx, c.daily, addr, &bars); err != nil {
		return nil, err
	}
	return bars, nil
}

type dividend struct {
	Date     folio.Date      `json:"date"` // ex-dividend date
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

func (c *Client) fetchDividends(ctx context.Context, ticker string, since folio.Date) ([]dividend, error) {
	var from string
	if !since.IsZero() {
		from = since.String()
	}
	addr := c.url("div/"+url.PathEscape(ticker), "from", from)
	var divs []dividend
	if err := jwget(ctx, c.daily, addr, &divs); err != nil {
		return nil, err
	}
	return divs, nil
}

// general is the part of the fundamentals used by folio.
type general struct {
	Currency string
	Sector   string
	Country  string
}

// fundamentals paths, the first one answering wins. Funds have no sector,
// their category is the closest thing.
var (
	currencyPaths = []string{"$.General.CurrencyCode"}
	sectorPaths   = []string{"$.General.Sector", "$.General.Category", "$.General.Type"}
	countryPaths  = []string{"$.General.CountryName", "$.General.CountryISO"}
)

func (c *Client) fetchGeneral(ctx context.Context, ticker string) (general, error) {
	addr := c.url("fundamentals/"+url.PathEscape(ticker), "filter", "General")
	var doc any
	if err := jwget(ctx, c.monthly, addr, &doc); err != nil {
		return general{}, err
	}
	// with a filter the answer is the General object itself
	if m, ok := doc.(map[string]any); ok {
		if _, nested := m["General"]; !nested {
			doc = map[string]any{"General": m}
		}
	}
	return general{
		Currency: firstString(doc, currencyPaths),
		Sector:   firstString(doc, sectorPaths),
		Country:  firstString(doc, countryPaths),
	}, nil
}

// firstString returns the first non empty string found at one of paths.
func firstString(doc any, paths []string) string {
	for _, path := range paths {
		v, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		// jsonpath is never clear about whether it returns a list of 1 answer or a single answer
		if list, ok := v.([]any); ok && len(list) > 0 {
			v = list[0]
		}
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// TickerInfo holds information about a specific ticker on an exchange from the EODHD API.
type TickerInfo struct {
	Code     string `json:"Code"`
	Name     string `json:"Name"`
	Country  string `json:"Country"`
	Exchange string `json:"Exchange"`
	Currency string `json:"Currency"`
	Type     string `json:"Type"`
	Isin     string `json:"Isin"`
}

// fetchTickers retrieves the list of all tickers for a given exchange code.
func (c *Client) fetchTickers(ctx context.Context, exchange string, delisted bool) ([]TickerInfo, error) {
	var flag string
	if delisted {
		flag = "1"
	}
	addr := c.url("exchange-symbol-list/"+url.PathEscape(exchange), "delisted", flag)
	var content []TickerInfo
	if err := jwget(ctx, c.monthly, addr, &content); err != nil {
		return nil, fmt.Errorf("tickers of exchange %s: %w", exchange, err)
	}
	return content, nil
}
