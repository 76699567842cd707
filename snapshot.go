package folio

import (
	"cmp"
	"slices"
)

// PositionValue is the valuation of one instrument at the snapshot date.
// Amounts in the base currency unless stated otherwise.
type PositionValue struct {
	Instrument     ID             `json:"instrument"`
	Ticker         string         `json:"ticker,omitempty"`
	Currency       string         `json:"currency"` // trade currency
	Quantity       Quantity       `json:"quantity"`
	AverageCost    Money          `json:"averageCost"` // trade currency
	Price          Money          `json:"price"`       // instrument currency, zero if unknown
	PriceDate      Date           `json:"priceDate"`
	PriceKnown     bool           `json:"priceKnown"`
	Invested       Money          `json:"invested"`
	MarketValue    Money          `json:"marketValue"`
	Unrealized     Money          `json:"unrealized"`
	Realized       Money          `json:"realized"`
	CurrencyImpact Money          `json:"currencyImpact"`
	Dividends      Money          `json:"dividends"`
	Fees           Money          `json:"fees"`
	Weight         Percent        `json:"weight"` // share of the portfolio market value
	Return         Percent        `json:"return"` // unrealized over invested
	Classification Classification `json:"classification"`
	Lots           []Lot          `json:"lots,omitempty"`
	Shorts         []Lot          `json:"shorts,omitempty"`
}

// Open reports whether shares are held.
func (p PositionValue) Open() bool { return p.Quantity.IsPositive() }

// Share is one line of an allocation breakdown.
type Share struct {
	Label  string  `json:"label"`
	Value  Money   `json:"value"`
	Weight Percent `json:"weight"`
}

// Snapshot is the computed state of a portfolio at a date. It is a pure
// function of the ledger and the market data: it is never edited, only
// recomputed.
type Snapshot struct {
	On   Date   `json:"on"`
	Base string `json:"base"`

	Positions []PositionValue `json:"positions"` // open positions, ledger order
	Closed    []PositionValue `json:"closed,omitempty"`

	Invested       Money `json:"invested"`
	MarketValue    Money `json:"marketValue"`
	Unrealized     Money `json:"unrealized"`
	Realized       Money `json:"realized"`
	CurrencyImpact Money `json:"currencyImpact"`
	Fees           Money `json:"fees"`

	Dividends          Money   `json:"dividends"`
	DividendsTTM       Money   `json:"dividendsTTM"` // trailing twelve months
	DividendTax        Money   `json:"dividendTax"`  // withheld on all dividends
	DividendYield      Percent `json:"dividendYield"`
	ProjectedDividends Money   `json:"projectedDividends"` // ten years at the trailing rate

	InflationAdjustedInvested Money `json:"inflationAdjustedInvested"`
	RealProfit                Money `json:"realProfit"` // market value − inflation adjusted invested
	InflationKnown            bool  `json:"inflationKnown"`

	BySector  []Share `json:"bySector"`
	ByCountry []Share `json:"byCountry"`

	Complete    bool         `json:"complete"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Profit is unrealized plus realized profit.
func (s *Snapshot) Profit() Money { return s.Unrealized.Add(s.Realized) }

// NetDividends is dividends minus withholding tax.
func (s *Snapshot) NetDividends() Money { return s.Dividends.Sub(s.DividendTax) }

// NetProfit is profit plus net dividends minus fees.
func (s *Snapshot) NetProfit() Money {
	return s.Profit().Add(s.NetDividends()).Sub(s.Fees)
}

// Return is unrealized profit over invested amount.
func (s *Snapshot) Return() Percent { return Ratio(s.Unrealized, s.Invested) }

// Position returns the valuation of an open position.
func (s *Snapshot) Position(id ID) (PositionValue, bool) {
	for _, p := range s.Positions {
		if p.Instrument == id {
			return p, true
		}
	}
	return PositionValue{}, false
}

// Top returns the n open positions with the highest unrealized profit.
func (s *Snapshot) Top(n int) []PositionValue {
	top := slices.Clone(s.Positions)
	slices.SortStableFunc(top, func(a, b PositionValue) int {
		return b.Unrealized.Amount().Cmp(a.Unrealized.Amount())
	})
	if n < len(top) {
		top = top[:n]
	}
	return top
}

// allocate groups market values by label, largest first.
func allocate(base string, positions []PositionValue, label func(PositionValue) string) []Share {
	total := M(0, base)
	index := make(map[string]int)
	var shares []Share
	for _, p := range positions {
		l := label(p)
		if l == "" {
			l = "Unknown"
		}
		i, ok := index[l]
		if !ok {
			i = len(shares)
			index[l] = i
			shares = append(shares, Share{Label: l, Value: M(0, base)})
		}
		shares[i].Value = shares[i].Value.Add(p.MarketValue)
		total = total.Add(p.MarketValue)
	}
	for i := range shares {
		shares[i].Weight = Ratio(shares[i].Value, total)
	}
	slices.SortStableFunc(shares, func(a, b Share) int {
		return cmp.Or(b.Value.Amount().Cmp(a.Value.Amount()), cmp.Compare(a.Label, b.Label))
	})
	return shares
}
