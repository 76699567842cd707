package folio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// MarketOptions tunes a Market. Zero fields take their default.
type MarketOptions struct {
	CacheSize int           // entries, default 1024
	TTL       time.Duration // default 1h
	Retries   uint64        // extra attempts after a timeout, default 2
	Backoff   time.Duration // wait between attempts, default 200ms
	Lookback  int           // preceding days tried for a missing price or rate, default 5
	Logger    zerolog.Logger
}

func (o MarketOptions) withDefaults() MarketOptions {
	if o.CacheSize <= 0 {
		o.CacheSize = 1024
	}
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.Lookback <= 0 {
		o.Lookback = 5
	}
	return o
}

// Quote is a price and the day it was observed.
type Quote struct {
	Price Money
	Date  Date
}

type cached struct {
	value any
	err   error
}

// Market wraps a Gateway for one evaluation scope: answers, including
// failures, are memoized in a bounded TTL cache, concurrent identical lookups
// share a single request, timeouts are retried a fixed number of times, and
// missing prices and rates fall back to the preceding days.
//
// Every lookup error wraps ErrLookupUnavailable: callers treat it as unknown.
type Market struct {
	gw    Gateway
	base  string
	opts  MarketOptions
	log   zerolog.Logger
	cache *expirable.LRU[string, cached]
	group singleflight.Group
}

// NewMarket creates a Market valuing FX rates in base.
func NewMarket(gw Gateway, base string, opts MarketOptions) *Market {
	opts = opts.withDefaults()
	return &Market{
		gw:    gw,
		base:  base,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "market").Logger(),
		cache: expirable.NewLRU[string, cached](opts.CacheSize, nil, opts.TTL),
	}
}

// Base returns the currency rates are expressed in.
func (m *Market) Base() string { return m.base }

// Lookback returns the number of preceding days tried for a missing price.
func (m *Market) Lookback() int { return m.opts.Lookback }

// lookup memoizes fetch under key.
func lookup[T any](ctx context.Context, m *Market, key string, fetch func(context.Context) (T, error)) (T, error) {
	if c, ok := m.cache.Get(key); ok {
		v, _ := c.value.(T)
		return v, c.err
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		var val T
		attempts := 0
		backoff := retry.WithMaxRetries(m.opts.Retries, retry.NewConstant(m.opts.Backoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			attempts++
			v, err := fetch(ctx)
			if errors.Is(err, ErrExternalTimeout) {
				m.log.Debug().Str("key", key).Int("attempt", attempts).Err(err).Msg("lookup timed out")
				return retry.RetryableError(err)
			}
			val = v
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrExternalTimeout):
			err = fmt.Errorf("%w after %d attempts: %w", ErrLookupUnavailable, attempts, err)
		case !errors.Is(err, ErrLookupUnavailable):
			err = fmt.Errorf("%w: %w", ErrLookupUnavailable, err)
		}
		if ctx.Err() == nil {
			m.cache.Add(key, cached{value: val, err: err})
		}
		return val, err
	})
	val, _ := v.(T)
	return val, err
}

// ResolveTicker returns the ticker of an instrument. A non ISIN identifier
// is already a ticker when the gateway does not know better.
func (m *Market) ResolveTicker(ctx context.Context, id ID) (string, error) {
	t, err := lookup(ctx, m, "ticker|"+string(id), func(ctx context.Context) (string, error) {
		return m.gw.ResolveTicker(ctx, id)
	})
	if err != nil && !id.IsISIN() {
		return string(id), nil
	}
	return t, err
}

// Price returns the closing price on 'on', or on one of the Lookback
// preceding days. The zero Date asks for the latest price.
func (m *Market) Price(ctx context.Context, ticker string, on Date) (Quote, error) {
	fetch := func(d Date) (Money, error) {
		return lookup(ctx, m, fmt.Sprintf("price|%s|%s", ticker, d), func(ctx context.Context) (Money, error) {
			return m.gw.Price(ctx, ticker, d)
		})
	}
	if on.IsZero() {
		p, err := fetch(on)
		return Quote{Price: p, Date: on}, err
	}
	var err error
	for i := 0; i <= m.opts.Lookback; i++ {
		d := on.Add(-i)
		var p Money
		if p, err = fetch(d); err == nil {
			if i > 0 {
				m.log.Debug().Str("ticker", ticker).Stringer("on", on).Stringer("used", d).Msg("price fallback")
			}
			return Quote{Price: p, Date: d}, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return Quote{}, fmt.Errorf("price of %s on %s or %d days before: %w", ticker, on, m.opts.Lookback, err)
}

// FXRate returns the value of one unit of currency in the base currency on
// 'on' or one of the Lookback preceding days. The base currency rate is 1.
func (m *Market) FXRate(ctx context.Context, currency string, on Date) (decimal.Decimal, error) {
	if currency == m.base || currency == "" {
		return decimal.NewFromInt(1), nil
	}
	var err error
	for i := 0; i <= m.opts.Lookback; i++ {
		d := on
		if !on.IsZero() {
			d = on.Add(-i)
		}
		var r decimal.Decimal
		r, err = lookup(ctx, m, fmt.Sprintf("fx|%s|%s", currency, d), func(ctx context.Context) (decimal.Decimal, error) {
			return m.gw.FXRate(ctx, currency, d)
		})
		if err == nil {
			return r, nil
		}
		if on.IsZero() || ctx.Err() != nil {
			break
		}
	}
	return decimal.Zero, fmt.Errorf("%s rate on %s: %w", currency, on, err)
}

// Dividends returns the dividends of ticker with an ex-date on or after since.
func (m *Market) Dividends(ctx context.Context, ticker string, since Date) ([]Dividend, error) {
	return lookup(ctx, m, fmt.Sprintf("div|%s|%s", ticker, since), func(ctx context.Context) ([]Dividend, error) {
		return m.gw.Dividends(ctx, ticker, since)
	})
}

// Classify returns the sector and country of ticker.
func (m *Market) Classify(ctx context.Context, ticker string) (Classification, error) {
	return lookup(ctx, m, "class|"+ticker, func(ctx context.Context) (Classification, error) {
		return m.gw.Classify(ctx, ticker)
	})
}
