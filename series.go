package folio

import (
	"context"

	"gonum.org/v1/gonum/stat"
)

// MonthPoint is the portfolio at the end of one calendar month.
type MonthPoint struct {
	Month       Range   `json:"-"`
	Label       string  `json:"month"` // like "2024-03"
	Cutoff      Date    `json:"cutoff"`
	MarketValue Money   `json:"marketValue"`
	Invested    Money   `json:"invested"`
	Profit      Money   `json:"profit"` // unrealized + realized at the cutoff
	Change      Money   `json:"change"` // profit minus previous month's profit
	Percent     Percent `json:"percent"`
	Skipped     bool    `json:"skipped"` // no open position: not part of percentage statistics
	Complete    bool    `json:"complete"`
}

// YearPoint rolls up the months of one calendar year.
type YearPoint struct {
	Year           int     `json:"year"`
	MarketValue    Money   `json:"marketValue"` // at the last month of the year
	Change         Money   `json:"change"`      // sum of monthly changes
	AveragePercent Percent `json:"averagePercent"`
	Complete       bool    `json:"complete"`
}

// Series is the month by month history of a portfolio.
type Series struct {
	Base        string       `json:"base"`
	Months      []MonthPoint `json:"months"`
	Years       []YearPoint  `json:"years"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// History replays the ledger up to the end of every month from the first
// transaction to 'on'. Each month is a full evaluation with that month's
// cutoff, so a point always equals Evaluate at its cutoff.
//
// Cancellation is checked between months: on cancellation the months fully
// computed so far are returned along with the context error.
func (e *Engine) History(ctx context.Context, l *Ledger, on Date) (*Series, error) {
	series := &Series{Base: e.base, Months: []MonthPoint{}, Years: []YearPoint{}, Diagnostics: []Diagnostic{}}
	if l.Len() == 0 || l.First().After(on) {
		return series, nil
	}

	var diags []Diagnostic
	previous := M(0, e.base)
	for month := range NewRange(l.First(), on).Periods(Monthly) {
		if err := ctx.Err(); err != nil {
			series.finish(diags)
			return series, err
		}
		cutoff := month.To
		if cutoff.After(on) {
			cutoff = on
		}
		snap, err := e.Evaluate(ctx, l, cutoff)
		if err != nil {
			series.finish(diags)
			return series, err
		}

		profit := snap.Profit()
		point := MonthPoint{
			Month:       month,
			Label:       month.Identifier(),
			Cutoff:      cutoff,
			MarketValue: snap.MarketValue,
			Invested:    snap.Invested,
			Profit:      profit,
			Change:      profit.Sub(previous),
			Skipped:     len(snap.Positions) == 0,
			Complete:    snap.Complete,
		}
		if !point.Skipped {
			point.Percent = Ratio(point.Change, snap.Invested)
		}
		previous = profit
		series.Months = append(series.Months, point)
		diags = append(diags, snap.Diagnostics...)
	}
	series.finish(diags)
	return series, nil
}

// finish computes the yearly rollups of the months gathered so far.
func (s *Series) finish(diags []Diagnostic) {
	s.Years = s.Years[:0]
	var percents []float64
	for i, m := range s.Months {
		year := m.Cutoff.Year()
		if len(s.Years) == 0 || s.Years[len(s.Years)-1].Year != year {
			s.Years = append(s.Years, YearPoint{Year: year, Change: M(0, s.Base), Complete: true})
			percents = percents[:0]
		}
		y := &s.Years[len(s.Years)-1]
		y.MarketValue = m.MarketValue
		y.Change = y.Change.Add(m.Change)
		y.Complete = y.Complete && m.Complete
		if !m.Skipped {
			percents = append(percents, float64(m.Percent))
		}
		if len(percents) > 0 && (i == len(s.Months)-1 || s.Months[i+1].Cutoff.Year() != year) {
			y.AveragePercent = Percent(stat.Mean(percents, nil))
		}
	}
	s.Diagnostics = sortDiagnostics(diags)
	if s.Diagnostics == nil {
		s.Diagnostics = []Diagnostic{}
	}
}
