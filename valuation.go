package folio

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// InflationIndex gives the consumer price index level as of a date (the
// latest value published on or before it).
type InflationIndex interface {
	CPI(ctx context.Context, on Date) (decimal.Decimal, error)
}

// Engine evaluates ledgers against market data. An Engine holds no state of
// its own besides its Market, so evaluations of different portfolios only
// share memoized lookups.
type Engine struct {
	market      *Market
	base        string
	inflation   InflationIndex
	withholding decimal.Decimal
	concurrency int
	log         zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithInflation sets the index used for inflation adjusted figures.
func WithInflation(idx InflationIndex) Option { return func(e *Engine) { e.inflation = idx } }

// WithDividendWithholding sets the tax rate withheld on dividends, 0.15 for 15%.
func WithDividendWithholding(rate decimal.Decimal) Option {
	return func(e *Engine) { e.withholding = rate }
}

// WithConcurrency bounds the number of instruments looked up at once.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// NewEngine creates an Engine valuing in the market's base currency.
func NewEngine(market *Market, opts ...Option) *Engine {
	e := &Engine{
		market:      market,
		base:        market.Base(),
		concurrency: 8,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	e.log = e.log.With().Str("component", "engine").Logger()
	return e
}

// Base returns the valuation currency.
func (e *Engine) Base() string { return e.base }

// Market returns the lookups used by the engine.
func (e *Engine) Market() *Market { return e.market }

// Evaluate computes the snapshot of the ledger as of 'on'.
//
// Bad data and failed lookups never abort the evaluation: they degrade the
// figures they affect and are reported in Snapshot.Diagnostics. The returned
// error is only about the call itself (cancelled context, mismatched currency).
func (e *Engine) Evaluate(ctx context.Context, l *Ledger, on Date) (*Snapshot, error) {
	if l.Base() != e.base {
		return nil, fmt.Errorf("ledger valued in %s cannot be evaluated in %s", l.Base(), e.base)
	}
	if err := e.prefetch(ctx, l, on); err != nil {
		return nil, err
	}
	s := e.evaluate(ctx, l, on)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// prefetch issues the per instrument lookups concurrently. Answers land in the
// market cache, the evaluation itself then runs sequentially over them.
func (e *Engine) prefetch(ctx context.Context, l *Ledger, on Date) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, id := range l.Instruments() {
		history := l.History(id, on)
		if len(history) == 0 {
			continue
		}
		first := history[0].Date
		open := quantityAt(history, on).IsPositive()
		g.Go(func() error {
			ticker, err := e.market.ResolveTicker(gctx, id)
			if err != nil {
				return nil
			}
			_, _ = e.market.Dividends(gctx, ticker, first)
			if open {
				_, _ = e.market.Price(gctx, ticker, on)
				_, _ = e.market.Classify(gctx, ticker)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// quantityAt sums the quantities of sorted transactions dated on or before d.
func quantityAt(sorted []Transaction, d Date) Quantity {
	var q Quantity
	for _, tx := range sorted {
		if tx.Date.After(d) {
			break
		}
		q = q.Add(tx.Quantity)
	}
	return q
}

// valuer carries the state of a single evaluation.
type valuer struct {
	e        *Engine
	ctx      context.Context
	on       Date
	base     string
	diags    []Diagnostic
	complete bool

	cpiNow      decimal.Decimal
	inflationOK bool
	adjInvested Money
	ttm         Money
}

func (v *valuer) zero() Money { return M(0, v.base) }

// unknown records a failed lookup: the figure it feeds is incomplete.
func (v *valuer) unknown(id ID, on Date, err error) {
	v.diags = append(v.diags, diagnose(id, on, err))
	v.complete = false
}

// rate returns the recorded rate if any, otherwise the market rate on that day.
func (v *valuer) rate(id ID, currency string, recorded decimal.NullDecimal, on Date) (decimal.Decimal, bool) {
	if recorded.Valid {
		return recorded.Decimal, true
	}
	r, err := v.e.market.FXRate(v.ctx, currency, on)
	if err != nil {
		v.unknown(id, on, err)
		return decimal.Zero, false
	}
	return r, true
}

func (e *Engine) evaluate(ctx context.Context, l *Ledger, on Date) *Snapshot {
	v := &valuer{e: e, ctx: ctx, on: on, base: e.base, complete: true}
	v.adjInvested = v.zero()
	v.ttm = v.zero()
	s := &Snapshot{
		On:                        on,
		Base:                      e.base,
		Positions:                 []PositionValue{},
		Invested:                  v.zero(),
		MarketValue:               v.zero(),
		Unrealized:                v.zero(),
		Realized:                  v.zero(),
		CurrencyImpact:            v.zero(),
		Fees:                      v.zero(),
		Dividends:                 v.zero(),
		InflationAdjustedInvested: v.zero(),
		RealProfit:                v.zero(),
	}

	if e.inflation != nil {
		cpi, err := e.inflation.CPI(ctx, on)
		if err == nil && cpi.IsPositive() {
			v.cpiNow, v.inflationOK = cpi, true
		} else if err != nil {
			v.diags = append(v.diags, diagnose("", on, fmt.Errorf("%w: consumer price index: %w", ErrLookupUnavailable, err)))
		}
	}

	for _, id := range l.Instruments() {
		history := l.History(id, on)
		if len(history) == 0 {
			continue
		}
		pv := v.position(id, history)
		s.Invested = s.Invested.Add(pv.Invested)
		s.MarketValue = s.MarketValue.Add(pv.MarketValue)
		s.Unrealized = s.Unrealized.Add(pv.Unrealized)
		s.Realized = s.Realized.Add(pv.Realized)
		s.CurrencyImpact = s.CurrencyImpact.Add(pv.CurrencyImpact)
		s.Fees = s.Fees.Add(pv.Fees)
		s.Dividends = s.Dividends.Add(pv.Dividends)
		if pv.Open() {
			s.Positions = append(s.Positions, pv)
		} else {
			s.Closed = append(s.Closed, pv)
		}
	}

	for i := range s.Positions {
		s.Positions[i].Weight = Ratio(s.Positions[i].MarketValue, s.MarketValue)
	}
	s.BySector = allocate(e.base, s.Positions, func(p PositionValue) string { return p.Classification.Sector })
	s.ByCountry = allocate(e.base, s.Positions, func(p PositionValue) string { return p.Classification.Country })

	s.DividendsTTM = v.ttm
	s.DividendTax = s.Dividends.Scale(e.withholding)
	s.DividendYield = Ratio(s.DividendsTTM, s.MarketValue)
	s.ProjectedDividends = s.DividendsTTM.Scale(decimal.NewFromInt(10))

	if e.inflation != nil && v.inflationOK {
		s.InflationKnown = true
		s.InflationAdjustedInvested = v.adjInvested
		s.RealProfit = s.MarketValue.Sub(v.adjInvested)
	}

	s.Complete = v.complete
	s.Diagnostics = sortDiagnostics(v.diags)
	if s.Diagnostics == nil {
		s.Diagnostics = []Diagnostic{}
	}
	e.log.Debug().Stringer("on", on).Int("positions", len(s.Positions)).Bool("complete", s.Complete).Msg("evaluated")
	return s
}

// position values one instrument. history is dated on or before v.on.
func (v *valuer) position(id ID, history []Transaction) PositionValue {
	ctx, on, base := v.ctx, v.on, v.base
	pos, diags := Aggregate(history, on)
	v.diags = append(v.diags, diags...)
	m := MatchLots(history, on)
	v.diags = append(v.diags, anomalies(id, on, m.Anomalies)...)

	cur := pos.Currency()
	pv := PositionValue{
		Instrument:     id,
		Currency:       cur,
		Quantity:       pos.Quantity,
		AverageCost:    pos.AverageCost(),
		Price:          M(0, cur),
		Invested:       v.zero(),
		MarketValue:    v.zero(),
		Unrealized:     v.zero(),
		Realized:       v.zero(),
		CurrencyImpact: v.zero(),
		Dividends:      v.zero(),
		Fees:           v.zero(),
		Lots:           m.Lots,
		Shorts:         m.Shorts,
	}

	ticker, err := v.e.market.ResolveTicker(ctx, id)
	if err != nil {
		v.unknown(id, on, err)
	}
	pv.Ticker = ticker

	// invested at each lot's own rate, currency impact against today's rate
	cpiOK := v.inflationOK
	fxNow, nowOK := decimal.NewFromInt(1), true
	if len(m.Lots) > 0 {
		fxNow, nowOK = v.rate(id, cur, decimal.NullDecimal{}, on)
	}
	for _, l := range m.Lots {
		if l.UnitCost.Currency() != cur {
			// excluded from cost, Aggregate already reported it
			continue
		}
		lotRate, ok := v.rate(id, cur, l.FXRate, l.Purchased)
		if !ok {
			if !nowOK {
				continue
			}
			lotRate = fxNow
		}
		invested := l.Cost().Convert(lotRate, base)
		pv.Invested = pv.Invested.Add(invested)
		if cur != base && nowOK {
			pv.CurrencyImpact = pv.CurrencyImpact.Add(l.Cost().Convert(fxNow.Sub(lotRate), base))
		}
		if cpiOK {
			cpiThen, err := v.e.inflation.CPI(ctx, l.Purchased)
			if err != nil || !cpiThen.IsPositive() {
				cpiOK = false
				v.inflationOK = false
				if err != nil {
					v.diags = append(v.diags, diagnose(id, l.Purchased, fmt.Errorf("%w: consumer price index: %w", ErrLookupUnavailable, err)))
				}
				continue
			}
			v.adjInvested = v.adjInvested.Add(invested.Scale(v.cpiNow.Div(cpiThen)))
		}
	}

	if pos.Open() && ticker != "" {
		if q, err := v.e.market.Price(ctx, ticker, on); err != nil {
			v.unknown(id, on, err)
		} else if r, ok := v.rate(id, q.Price.Currency(), decimal.NullDecimal{}, on); ok {
			pv.Price, pv.PriceDate, pv.PriceKnown = q.Price, q.Date, true
			pv.MarketValue = q.Price.Mul(pos.Quantity).Convert(r, base)
		}
		if c, err := v.e.market.Classify(ctx, ticker); err != nil {
			v.diags = append(v.diags, diagnose(id, on, err))
		} else {
			pv.Classification = c
		}
	}
	pv.Unrealized = pv.MarketValue.Sub(pv.Invested)
	pv.Return = Ratio(pv.Unrealized, pv.Invested)

	for _, ev := range m.Events {
		sr, ok := v.rate(id, ev.Proceeds.Currency(), ev.SellFXRate, ev.Sold)
		if !ok {
			continue
		}
		lr, ok := v.rate(id, ev.CostBasis.Currency(), ev.LotFXRate, ev.Purchased)
		if !ok {
			continue
		}
		pv.Realized = pv.Realized.Add(ev.Proceeds.Convert(sr, base).Sub(ev.CostBasis.Convert(lr, base)))
	}

	for _, tx := range history {
		if tx.Fee.IsZero() {
			continue
		}
		var recorded decimal.NullDecimal
		if tx.Fee.Currency() == tx.Currency() {
			recorded = tx.FXRate
		}
		if r, ok := v.rate(id, tx.Fee.Currency(), recorded, tx.Date); ok {
			pv.Fees = pv.Fees.Add(tx.Fee.Convert(r, base))
		}
	}

	if ticker != "" {
		v.dividends(id, ticker, history, &pv)
	}
	return pv
}

// dividends sums the dividends received while the position was held. The
// entitled quantity is the one held at the close of the day before the ex-date.
func (v *valuer) dividends(id ID, ticker string, history []Transaction, pv *PositionValue) {
	sorted := sortedHistory(history)
	first := sorted[0].Date
	divs, err := v.e.market.Dividends(v.ctx, ticker, first)
	if err != nil {
		v.unknown(id, v.on, err)
		return
	}
	divs = slices.Clone(divs)
	slices.SortStableFunc(divs, func(a, b Dividend) int { return a.ExDate.Compare(b.ExDate) })
	yearAgo := v.on.AddSpan(Span{Years: -1})
	// entitled from the day after the first trade
	window := Range{From: first.Add(1), To: v.on}
	for _, d := range divs {
		if !window.Contains(d.ExDate) {
			continue
		}
		held := quantityAt(sorted, d.ExDate.Add(-1))
		if !held.IsPositive() {
			continue
		}
		r, ok := v.rate(id, d.Amount.Currency(), decimal.NullDecimal{}, d.ExDate)
		if !ok {
			continue
		}
		amount := d.Amount.Mul(held).Convert(r, v.base)
		pv.Dividends = pv.Dividends.Add(amount)
		if d.ExDate.After(yearAgo) {
			v.ttm = v.ttm.Add(amount)
		}
	}
}
