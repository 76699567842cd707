package openfigi

import (
	"context"
	"errors"
	"fmt"

	"github.com/etnz/folio"
)

// DefaultExchanges maps OpenFIGI exchange codes to the ticker suffix of the
// eodhd gateway, in order of preference.
var DefaultExchanges = []Exchange{
	{Code: "GY", Suffix: "XETRA"},
	{Code: "US", Suffix: "US"},
	{Code: "LN", Suffix: "LSE"},
	{Code: "FP", Suffix: "PA"},
	{Code: "NA", Suffix: "AS"},
	{Code: "CK", Suffix: "PR"},
}

// Exchange pairs an OpenFIGI exchange code with a ticker suffix.
type Exchange struct {
	Code   string
	Suffix string
}

// Gateway resolves with OpenFIGI the tickers its embedded gateway does not
// know. Every other lookup goes to the embedded gateway.
type Gateway struct {
	folio.Gateway
	figi      *Client
	exchanges []Exchange
}

// NewGateway decorates gw. A nil exchanges uses DefaultExchanges.
func NewGateway(gw folio.Gateway, figi *Client, exchanges []Exchange) *Gateway {
	if exchanges == nil {
		exchanges = DefaultExchanges
	}
	return &Gateway{Gateway: gw, figi: figi, exchanges: exchanges}
}

func (g *Gateway) ResolveTicker(ctx context.Context, id folio.ID) (string, error) {
	ticker, err := g.Gateway.ResolveTicker(ctx, id)
	if err == nil || !errors.Is(err, folio.ErrLookupUnavailable) || !id.IsISIN() {
		return ticker, err
	}
	results, ferr := g.figi.LookupISIN(ctx, string(id))
	if ferr != nil {
		return "", ferr
	}
	for _, ex := range g.exchanges {
		for _, r := range results {
			if r.ExchCode == ex.Code && r.Ticker != "" {
				g.figi.log.Debug().Str("isin", string(id)).Str("ticker", r.Ticker).Str("exchange", ex.Code).Msg("resolved")
				return r.Ticker + "." + ex.Suffix, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s is not listed on a known exchange", folio.ErrLookupUnavailable, id)
}
