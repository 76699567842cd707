// Package renderer formats folio reports as markdown, to be printed as is or
// through a terminal renderer.
package renderer

import (
	"bytes"
	"fmt"

	"github.com/etnz/folio"
	md "github.com/nao1215/markdown"
)

// unknown is printed in place of a value that could not be computed.
const unknown = "n/a"

// newDoc starts a document, its content is read back with String.
func newDoc() *md.Markdown { return md.NewMarkdown(new(bytes.Buffer)) }

// diagnostics appends the diagnostics section, if any.
func diagnostics(doc *md.Markdown, diags []folio.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	doc.H2("Diagnostics")
	items := make([]string, 0, len(diags))
	for _, d := range diags {
		items = append(items, d.String())
	}
	doc.BulletList(items...)
}

func incomplete(doc *md.Markdown, complete bool) {
	if !complete {
		doc.PlainText(md.Italic("Some values are unknown, see the diagnostics below."))
	}
}

func alignment(n int) []md.TableAlignment {
	a := make([]md.TableAlignment, n)
	a[0] = md.AlignLeft
	for i := 1; i < n; i++ {
		a[i] = md.AlignRight
	}
	return a
}

func signedPercent(p folio.Percent) string { return p.SignedString() }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// SnapshotMarkdown renders the valuation of a portfolio.
func SnapshotMarkdown(s *folio.Snapshot) string {
	doc := newDoc()
	doc.H1(fmt.Sprintf("Portfolio on %s", s.On))
	incomplete(doc, s.Complete)

	rows := [][]string{
		{"Invested", s.Invested.String()},
		{md.Bold("Market value"), md.Bold(s.MarketValue.String())},
		{"Unrealized profit", s.Unrealized.SignedString()},
		{"Return", signedPercent(s.Return())},
		{"Realized profit", s.Realized.SignedString()},
		{"Currency impact", s.CurrencyImpact.SignedString()},
		{"Fees", s.Fees.String()},
		{"Dividends", s.Dividends.String()},
		{"Dividend tax", s.DividendTax.String()},
		{"Dividend yield", s.DividendYield.String()},
		{"Projected dividends (10y)", s.ProjectedDividends.String()},
		{md.Bold("Net profit"), md.Bold(s.NetProfit().SignedString())},
	}
	if s.InflationKnown {
		rows = append(rows,
			[]string{"Inflation adjusted invested", s.InflationAdjustedInvested.String()},
			[]string{"Real profit", s.RealProfit.SignedString()},
		)
	}
	doc.Table(md.TableSet{
		Alignment: alignment(2),
		Header:    []string{"Metric", "Value"},
		Rows:      rows,
	})

	if len(s.Positions) > 0 {
		doc.H2("Positions")
		table := md.TableSet{
			Alignment: alignment(9),
			Header:    []string{"Instrument", "Ticker", "Quantity", "Average cost", "Price", "Market value", "Unrealized", "Return", "Weight"},
		}
		for _, p := range s.Positions {
			price, value := unknown, unknown
			if p.PriceKnown {
				price, value = p.Price.String(), p.MarketValue.String()
			}
			table.Rows = append(table.Rows, []string{
				string(p.Instrument),
				p.Ticker,
				p.Quantity.String(),
				p.AverageCost.String(),
				price,
				value,
				p.Unrealized.SignedString(),
				signedPercent(p.Return),
				p.Weight.String(),
			})
		}
		doc.Table(table)

		doc.H2("Top investments")
		var top []string
		for _, p := range s.Top(5) {
			top = append(top, fmt.Sprintf("%s %s (%s)", p.Instrument, p.Unrealized.SignedString(), signedPercent(p.Return)))
		}
		doc.OrderedList(top...)
	}

	allocation(doc, "Allocation by sector", s.BySector)
	allocation(doc, "Allocation by country", s.ByCountry)

	if len(s.Closed) > 0 {
		doc.H2("Closed positions")
		table := md.TableSet{
			Alignment: alignment(4),
			Header:    []string{"Instrument", "Realized", "Dividends", "Fees"},
		}
		for _, p := range s.Closed {
			table.Rows = append(table.Rows, []string{string(p.Instrument), p.Realized.SignedString(), p.Dividends.String(), p.Fees.String()})
		}
		doc.Table(table)
	}

	diagnostics(doc, s.Diagnostics)
	return doc.String()
}

func allocation(doc *md.Markdown, title string, shares []folio.Share) {
	if len(shares) == 0 {
		return
	}
	doc.H2(title)
	table := md.TableSet{
		Alignment: alignment(3),
		Header:    []string{"Group", "Value", "Weight"},
	}
	for _, sh := range shares {
		table.Rows = append(table.Rows, []string{sh.Label, sh.Value.String(), sh.Weight.String()})
	}
	doc.Table(table)
}

// HistoryMarkdown renders the monthly history and its yearly rollup.
func HistoryMarkdown(s *folio.Series) string {
	doc := newDoc()
	doc.H1(fmt.Sprintf("History in %s", s.Base))
	if len(s.Months) == 0 {
		doc.PlainText("No transaction yet.")
		return doc.String()
	}

	table := md.TableSet{
		Alignment: alignment(6),
		Header:    []string{"Month", "Market value", "Invested", "Profit", "Change", "Change %"},
	}
	for _, m := range s.Months {
		pct := signedPercent(m.Percent)
		if m.Skipped {
			pct = "-"
		}
		value := m.MarketValue.String()
		if !m.Complete {
			value += " *"
		}
		table.Rows = append(table.Rows, []string{m.Label, value, m.Invested.String(), m.Profit.SignedString(), m.Change.SignedString(), pct})
	}
	doc.Table(table)

	doc.H2("Years")
	years := md.TableSet{
		Alignment: alignment(4),
		Header:    []string{"Year", "Market value", "Change", "Average monthly %"},
	}
	for _, y := range s.Years {
		years.Rows = append(years.Rows, []string{fmt.Sprint(y.Year), y.MarketValue.String(), y.Change.SignedString(), signedPercent(y.AveragePercent)})
	}
	doc.Table(years)

	diagnostics(doc, s.Diagnostics)
	return doc.String()
}

// TaxMarkdown renders the capital gains exposure per year and per sale.
func TaxMarkdown(r *folio.TaxReport) string {
	doc := newDoc()
	doc.H1("Tax exposure")
	doc.PlainText(fmt.Sprintf("Sales of lots held at least %s are exempt. Taxable proceeds up to %s a year are exempt.", r.HoldingPeriod, r.AnnualLimit))

	if len(r.Years) == 0 {
		doc.PlainText("No sale yet.")
		diagnostics(doc, r.Diagnostics)
		return doc.String()
	}

	doc.H2("Years")
	years := md.TableSet{
		Alignment: alignment(6),
		Header:    []string{"Year", "Taxable proceeds", "Exempt proceeds", "Taxable gain", "Headroom", "Status"},
	}
	for _, y := range r.Years {
		status := "under limit"
		if !y.UnderLimit {
			status = md.Bold("over limit")
		}
		if !y.Complete {
			status += ", incomplete"
		}
		years.Rows = append(years.Rows, []string{fmt.Sprint(y.Year), y.TaxableProceeds.String(), y.ExemptProceeds.String(), y.TaxableGain.SignedString(), y.Headroom.String(), status})
	}
	doc.Table(years)

	doc.H2("Sales")
	sales := md.TableSet{
		Alignment: alignment(7),
		Header:    []string{"Sold", "Instrument", "Purchased", "Quantity", "Proceeds", "Gain", "Exempt"},
	}
	for _, l := range r.Lots {
		proceeds, gain := unknown, unknown
		if l.Known {
			proceeds, gain = l.Proceeds.String(), l.Gain.SignedString()
		}
		ev := l.Event
		sales.Rows = append(sales.Rows, []string{ev.Sold.String(), string(ev.Instrument), ev.Purchased.String(), ev.Quantity.String(), proceeds, gain, yesNo(l.Exempt)})
	}
	doc.Table(sales)

	diagnostics(doc, r.Diagnostics)
	return doc.String()
}

// LotsMarkdown renders the open lots of every instrument.
func LotsMarkdown(r *folio.LotReport) string {
	doc := newDoc()
	doc.H1(fmt.Sprintf("Lots on %s", r.On))
	if len(r.Instruments) == 0 {
		doc.PlainText("No open lot.")
	}
	for _, il := range r.Instruments {
		doc.H2(string(il.Instrument))
		doc.PlainText(fmt.Sprintf("Quantity %s, cost %s, %d realized sales.", il.Quantity, il.Cost, len(il.Events)))
		if len(il.Lots) == 0 && len(il.Shorts) == 0 {
			continue
		}
		table := md.TableSet{
			Alignment: alignment(4),
			Header:    []string{"Purchased", "Quantity", "Unit cost", "Cost"},
		}
		for _, l := range il.Lots {
			table.Rows = append(table.Rows, []string{l.Purchased.String(), l.Quantity.String(), l.UnitCost.String(), l.Cost().String()})
		}
		for _, l := range il.Shorts {
			table.Rows = append(table.Rows, []string{l.Purchased.String(), l.Quantity.Neg().String(), unknown, unknown})
		}
		doc.Table(table)
	}
	diagnostics(doc, r.Diagnostics)
	return doc.String()
}

// ImportMarkdown renders the outcome of an import.
func ImportMarkdown(r *folio.ImportReport) string {
	doc := newDoc()
	doc.H1("Import")
	doc.Table(md.TableSet{
		Alignment: alignment(2),
		Header:    []string{"Field", "Value"},
		Rows: [][]string{
			{"Format", r.Adapter},
			{"Rows", fmt.Sprint(r.Rows)},
			{"Transactions", fmt.Sprint(len(r.Transactions))},
			{"Skipped", fmt.Sprint(r.Skipped)},
			{"Rejected", fmt.Sprint(len(r.Errors))},
		},
	})
	if len(r.Errors) > 0 {
		doc.H2("Rejected rows")
		items := make([]string, 0, len(r.Errors))
		for _, err := range r.Errors {
			items = append(items, err.Error())
		}
		doc.BulletList(items...)
	}
	return doc.String()
}
