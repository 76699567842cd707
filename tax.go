package folio

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// TaxRules describes a capital gains exemption regime.
type TaxRules struct {
	// HoldingPeriod exempts lots held at least that long, boundary included.
	HoldingPeriod Span
	// AnnualLimit is the yearly taxable sale proceeds under which a year
	// stays exempt. Its currency is the one proceeds are compared in.
	AnnualLimit Money
}

// Exempt reports whether a lot bought on 'purchased' and sold on 'sold' is
// held long enough. Durations are calendar accurate.
func (r TaxRules) Exempt(purchased, sold Date) bool {
	return !sold.Before(purchased.AddSpan(r.HoldingPeriod))
}

// FXSource gives the value of one unit of currency in the base currency.
type FXSource interface {
	FXRate(ctx context.Context, currency string, on Date) (decimal.Decimal, error)
}

// TaxLot is a realized gain event with its exemption status.
type TaxLot struct {
	Event    RealizedGainEvent `json:"event"`
	Exempt   bool              `json:"exempt"`
	Proceeds Money             `json:"proceeds"` // in the limit currency
	Gain     Money             `json:"gain"`     // in the limit currency
	Known    bool              `json:"known"`    // false when no rate was available
}

// TaxYear sums the sales of one calendar year.
type TaxYear struct {
	Year            int   `json:"year"`
	TaxableProceeds Money `json:"taxableProceeds"`
	ExemptProceeds  Money `json:"exemptProceeds"`
	TaxableGain     Money `json:"taxableGain"`
	Headroom        Money `json:"headroom"`   // limit minus taxable proceeds, never negative
	UnderLimit      bool  `json:"underLimit"` // taxable proceeds within the annual limit
	Complete        bool  `json:"complete"`
}

// TaxReport is the capital gains exposure of a set of sales.
type TaxReport struct {
	HoldingPeriod Span         `json:"holdingPeriod"`
	AnnualLimit   Money        `json:"annualLimit"`
	Lots          []TaxLot     `json:"lots"`
	Years         []TaxYear    `json:"years"`
	Diagnostics   []Diagnostic `json:"diagnostics"`
}

// Year returns the summary of one year, if any sale happened that year.
func (r *TaxReport) Year(year int) (TaxYear, bool) {
	for _, y := range r.Years {
		if y.Year == year {
			return y, true
		}
	}
	return TaxYear{}, false
}

// TaxExposure partitions events into exempt and taxable ones and sums
// taxable proceeds per calendar year of the sale, compared to the annual
// limit. Amounts are converted at the rate of the sell date, each
// (currency, date) rate being looked up once per call.
func TaxExposure(ctx context.Context, events []RealizedGainEvent, rules TaxRules, fx FXSource) *TaxReport {
	limitCur := rules.AnnualLimit.Currency()
	report := &TaxReport{
		HoldingPeriod: rules.HoldingPeriod,
		AnnualLimit:   rules.AnnualLimit,
		Lots:          []TaxLot{},
		Years:         []TaxYear{},
	}

	type rateKey struct {
		cur string
		on  Date
	}
	type rateResult struct {
		rate decimal.Decimal
		err  error
	}
	rates := make(map[rateKey]rateResult)
	// rate converts one unit of cur into the limit currency.
	rate := func(cur string, on Date) (decimal.Decimal, error) {
		if cur == limitCur {
			return decimal.NewFromInt(1), nil
		}
		k := rateKey{cur, on}
		if r, ok := rates[k]; ok {
			return r.rate, r.err
		}
		var res rateResult
		num, err := fx.FXRate(ctx, cur, on)
		if err == nil {
			var den decimal.Decimal
			den, err = fx.FXRate(ctx, limitCur, on)
			if err == nil && den.IsZero() {
				err = fmt.Errorf("%w: zero %s rate on %s", ErrLookupUnavailable, limitCur, on)
			}
			if err == nil {
				res.rate = num.Div(den)
			}
		}
		res.err = err
		rates[k] = res
		return res.rate, res.err
	}

	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b RealizedGainEvent) int { return a.Sold.Compare(b.Sold) })

	var diags []Diagnostic
	for _, ev := range sorted {
		lot := TaxLot{Event: ev, Exempt: rules.Exempt(ev.Purchased, ev.Sold)}
		year := ev.Sold.Year()
		if len(report.Years) == 0 || report.Years[len(report.Years)-1].Year != year {
			report.Years = append(report.Years, TaxYear{
				Year:            year,
				TaxableProceeds: M(0, limitCur),
				ExemptProceeds:  M(0, limitCur),
				TaxableGain:     M(0, limitCur),
				Complete:        true,
			})
		}
		y := &report.Years[len(report.Years)-1]

		// both legs at the sell date rate: the limit compares amounts of a single day
		r, err := rate(ev.Proceeds.Currency(), ev.Sold)
		if err == nil && ev.CostBasis.Currency() != ev.Proceeds.Currency() {
			var rc decimal.Decimal
			if rc, err = rate(ev.CostBasis.Currency(), ev.Sold); err == nil {
				lot.Proceeds = ev.Proceeds.Convert(r, limitCur)
				lot.Gain = lot.Proceeds.Sub(ev.CostBasis.Convert(rc, limitCur))
			}
		} else if err == nil {
			lot.Proceeds = ev.Proceeds.Convert(r, limitCur)
			lot.Gain = ev.Gain.Convert(r, limitCur)
		}
		if err != nil {
			diags = append(diags, diagnose(ev.Instrument, ev.Sold, err))
			y.Complete = false
			report.Lots = append(report.Lots, lot)
			continue
		}
		lot.Known = true
		if lot.Exempt {
			y.ExemptProceeds = y.ExemptProceeds.Add(lot.Proceeds)
		} else {
			y.TaxableProceeds = y.TaxableProceeds.Add(lot.Proceeds)
			y.TaxableGain = y.TaxableGain.Add(lot.Gain)
		}
		report.Lots = append(report.Lots, lot)
	}

	for i := range report.Years {
		y := &report.Years[i]
		y.Headroom = rules.AnnualLimit.Sub(y.TaxableProceeds)
		if y.Headroom.IsNegative() {
			y.Headroom = M(0, limitCur)
		}
		y.UnderLimit = !y.TaxableProceeds.GreaterThan(rules.AnnualLimit)
	}
	report.Diagnostics = sortDiagnostics(diags)
	if report.Diagnostics == nil {
		report.Diagnostics = []Diagnostic{}
	}
	return report
}

// TaxExposure matches the lots of every instrument of the ledger up to 'on'
// and computes the tax exposure of the resulting sales.
func (e *Engine) TaxExposure(ctx context.Context, l *Ledger, on Date, rules TaxRules) (*TaxReport, error) {
	if rules.AnnualLimit.Currency() == "" {
		rules.AnnualLimit = M(rules.AnnualLimit.Amount(), e.base)
	}
	var events []RealizedGainEvent
	var diags []Diagnostic
	for _, id := range l.Instruments() {
		m := MatchLots(l.History(id, on), on)
		events = append(events, m.Events...)
		diags = append(diags, anomalies(id, on, m.Anomalies)...)
	}
	report := TaxExposure(ctx, events, rules, e.market)
	report.Diagnostics = sortDiagnostics(append(report.Diagnostics, diags...))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return report, nil
}
