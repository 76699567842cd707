package eodhd

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/etnz/folio"
)

// SearchResult matches the structure of a single item in the EODHD search API response.
type SearchResult struct {
	Code              string     `json:"Code"`
	Exchange          string     `json:"Exchange"`
	Name              string     `json:"Name"`
	Type              string     `json:"Type"`
	Country           string     `json:"Country"`
	Currency          string     `json:"Currency"`
	ISIN              string     `json:"ISIN"`
	PreviousClose     float64    `json:"previousClose"`
	PreviousCloseDate folio.Date `json:"previousCloseDate"`
}

// Ticker is the code used by the other endpoints, like "AAPL.US".
func (r SearchResult) Ticker() string { return r.Code + "." + r.Exchange }

// Search searches for securities by name, ticker or ISIN.
func (c *Client) Search(ctx context.Context, term string) ([]SearchResult, error) {
	var results []SearchResult
	if err := jwget(ctx, c.daily, c.url("search/"+url.PathEscape(term)), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// ResolveTicker maps an ISIN to an eodhd ticker. The search endpoint is
// tried first, preferring the configured exchanges in order. Then the
// listings of those exchanges, delisted ones included.
func (c *Client) ResolveTicker(ctx context.Context, id folio.ID) (string, error) {
	if !id.IsISIN() {
		return "", fmt.Errorf("%w: %s is not an ISIN", folio.ErrLookupUnavailable, id)
	}
	isin := string(id)

	results, err := c.Search(ctx, isin)
	if err != nil {
		return "", err
	}
	best, bestRank := -1, 0
	for i, r := range results {
		if r.ISIN != isin {
			continue
		}
		if rank := exchangeRank(c.exchanges, r.Exchange); best < 0 || rank < bestRank {
			best, bestRank = i, rank
		}
	}
	if best >= 0 {
		r := results[best]
		c.setCurrency(r.Ticker(), r.Currency)
		return r.Ticker(), nil
	}

	for _, exchange := range c.exchanges {
		for _, delisted := range []bool{false, true} {
			tickers, err := c.fetchTickers(ctx, exchange, delisted)
			if err != nil {
				c.log.Debug().Err(err).Str("exchange", exchange).Msg("listing unavailable")
				continue
			}
			for _, t := range tickers {
				if t.Isin == isin {
					// t.Exchange is the physical place (e.g NASDAQ), the other
					// endpoints want the virtual exchange that was listed.
					ticker := t.Code + "." + exchange
					c.setCurrency(ticker, t.Currency)
					return ticker, nil
				}
			}
		}
	}
	return "", fmt.Errorf("%w: %s is not traded in %v", folio.ErrLookupUnavailable, isin, c.exchanges)
}

// exchangeRank orders exchanges by preference, unknown ones last.
func exchangeRank(exchanges []string, exchange string) int {
	if i := slices.Index(exchanges, exchange); i >= 0 {
		return i
	}
	return len(exchanges)
}
