package folio

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Dividend is a cash distribution per share.
type Dividend struct {
	ExDate Date  `json:"exDate"`
	Amount Money `json:"amount"` // per share
}

// Classification locates an instrument in allocation reports.
type Classification struct {
	Sector  string `json:"sector,omitempty"`
	Country string `json:"country,omitempty"`
}

// Gateway is the market and reference data collaborator.
//
// Implementations return an error wrapping ErrLookupUnavailable when they
// have no answer and ErrExternalTimeout when the source did not answer in
// time. The engine never calls a Gateway directly: it goes through a Market.
type Gateway interface {
	// ResolveTicker maps an instrument to the ticker used by the other lookups.
	ResolveTicker(ctx context.Context, id ID) (string, error)
	// Price returns the closing price on that exact day, or the most recent
	// one if 'on' is the zero Date.
	Price(ctx context.Context, ticker string, on Date) (Money, error)
	// FXRate returns the value of one unit of currency in the base currency
	// on that exact day, or the most recent one if 'on' is the zero Date.
	FXRate(ctx context.Context, currency string, on Date) (decimal.Decimal, error)
	// Dividends returns the dividends whose ex-date is on or after since.
	Dividends(ctx context.Context, ticker string, since Date) ([]Dividend, error)
	// Classify returns the sector and country of the instrument.
	Classify(ctx context.Context, ticker string) (Classification, error)
}

// StaticGateway serves market data from memory. Its zero value has no data.
// It is safe for concurrent lookups once populated.
type StaticGateway struct {
	mu      sync.RWMutex
	tickers map[ID]string
	prices  map[string]map[Date]Money
	rates   map[string]map[Date]decimal.Decimal
	divs    map[string][]Dividend
	classes map[string]Classification

	calls atomic.Int64
}

// NewStaticGateway returns an empty StaticGateway.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{
		tickers: make(map[ID]string),
		prices:  make(map[string]map[Date]Money),
		rates:   make(map[string]map[Date]decimal.Decimal),
		divs:    make(map[string][]Dividend),
		classes: make(map[string]Classification),
	}
}

// Calls returns the number of lookups served so far.
func (g *StaticGateway) Calls() int64 { return g.calls.Load() }

func (g *StaticGateway) SetTicker(id ID, ticker string) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tickers[id] = ticker
	return g
}

func (g *StaticGateway) SetPrice(ticker string, on Date, price Money) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prices[ticker] == nil {
		g.prices[ticker] = make(map[Date]Money)
	}
	g.prices[ticker][on] = price
	return g
}

func (g *StaticGateway) SetRate(currency string, on Date, rate decimal.Decimal) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rates[currency] == nil {
		g.rates[currency] = make(map[Date]decimal.Decimal)
	}
	g.rates[currency][on] = rate
	return g
}

func (g *StaticGateway) AddDividend(ticker string, d Dividend) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.divs[ticker] = append(g.divs[ticker], d)
	return g
}

func (g *StaticGateway) SetClassification(ticker string, c Classification) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.classes[ticker] = c
	return g
}

func (g *StaticGateway) ResolveTicker(ctx context.Context, id ID) (string, error) {
	g.calls.Add(1)
	g.mu.RLock()
	defer g.mu.RUnlock()
	if t, ok := g.tickers[id]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: no ticker for %s", ErrLookupUnavailable, id)
}

// latest returns the value at the most recent date of h.
func latest[T any](h map[Date]T) (T, bool) {
	var zero T
	if len(h) == 0 {
		return zero, false
	}
	days := slices.SortedFunc(maps.Keys(h), Date.Compare)
	return h[days[len(days)-1]], true
}

func (g *StaticGateway) Price(ctx context.Context, ticker string, on Date) (Money, error) {
	g.calls.Add(1)
	g.mu.RLock()
	defer g.mu.RUnlock()
	h := g.prices[ticker]
	if on.IsZero() {
		if p, ok := latest(h); ok {
			return p, nil
		}
	} else if p, ok := h[on]; ok {
		return p, nil
	}
	return Money{}, fmt.Errorf("%w: no price for %s on %s", ErrLookupUnavailable, ticker, on)
}

func (g *StaticGateway) FXRate(ctx context.Context, currency string, on Date) (decimal.Decimal, error) {
	g.calls.Add(1)
	g.mu.RLock()
	defer g.mu.RUnlock()
	h := g.rates[currency]
	if on.IsZero() {
		if r, ok := latest(h); ok {
			return r, nil
		}
	} else if r, ok := h[on]; ok {
		return r, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no %s rate on %s", ErrLookupUnavailable, currency, on)
}

func (g *StaticGateway) Dividends(ctx context.Context, ticker string, since Date) ([]Dividend, error) {
	g.calls.Add(1)
	g.mu.RLock()
	defer g.mu.RUnlock()
	var res []Dividend
	for _, d := range g.divs[ticker] {
		if !d.ExDate.Before(since) {
			res = append(res, d)
		}
	}
	return res, nil
}

func (g *StaticGateway) Classify(ctx context.Context, ticker string) (Classification, error) {
	g.calls.Add(1)
	g.mu.RLock()
	defer g.mu.RUnlock()
	if c, ok := g.classes[ticker]; ok {
		return c, nil
	}
	return Classification{}, fmt.Errorf("%w: no classification for %s", ErrLookupUnavailable, ticker)
}
