package folio

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Lot is the unconsumed slice of a buy transaction.
type Lot struct {
	Ref        string              `json:"ref"` // originating buy
	Instrument ID                  `json:"instrument"`
	Purchased  Date                `json:"purchased"`
	Quantity   Quantity            `json:"quantity"` // remaining
	UnitCost   Money               `json:"unitCost"`
	FXRate     decimal.NullDecimal `json:"fxRate"` // rate paid, if recorded on the buy
}

// Cost is the remaining quantity at unit cost, in the trade currency.
func (l Lot) Cost() Money { return l.UnitCost.Mul(l.Quantity) }

// RealizedGainEvent is the result of matching a sell against one lot slice.
// A sell spanning several lots yields one event per lot, each with a single
// purchase date.
type RealizedGainEvent struct {
	Instrument ID                  `json:"instrument"`
	SellRef    string              `json:"sellRef"`
	LotRef     string              `json:"lotRef"`
	Sold       Date                `json:"sold"`
	Purchased  Date                `json:"purchased"`
	Quantity   Quantity            `json:"quantity"`
	Proceeds   Money               `json:"proceeds"`  // quantity × sell price
	CostBasis  Money               `json:"costBasis"` // quantity × lot unit cost
	Gain       Money               `json:"gain"`      // proceeds − cost basis, zero if their currencies differ
	SellFXRate decimal.NullDecimal `json:"sellFxRate"`
	LotFXRate  decimal.NullDecimal `json:"lotFxRate"`
}

// Matching is the FIFO state of one instrument after replaying its history.
type Matching struct {
	Instrument ID
	Currency   string // of the first transaction, the position currency
	Lots       []Lot // open lots, oldest first
	Shorts     []Lot // unmatched sold quantity, no cost basis, oldest first
	Events     []RealizedGainEvent
	Anomalies  []error
}

// Quantity is the net position: open lots minus shorts.
func (m Matching) Quantity() Quantity {
	var q Quantity
	for _, l := range m.Lots {
		q = q.Add(l.Quantity)
	}
	for _, s := range m.Shorts {
		q = q.Sub(s.Quantity)
	}
	return q
}

// Cost is the cost of the open lots, in the position currency. Lots bought
// in another currency are left out, see Foreign.
func (m Matching) Cost() Money {
	c := M(0, m.Currency)
	for _, l := range m.Lots {
		if l.UnitCost.Currency() == m.Currency {
			c = c.Add(l.Cost())
		}
	}
	return c
}

// Foreign returns the open lots bought in another currency than the position.
func (m Matching) Foreign() []Lot {
	var lots []Lot
	for _, l := range m.Lots {
		if l.UnitCost.Currency() != m.Currency {
			lots = append(lots, l)
		}
	}
	return lots
}

func (m *Matching) buy(tx Transaction) {
	q := tx.Quantity
	// a buy covers outstanding shorts first
	for len(m.Shorts) > 0 && q.IsPositive() {
		s := &m.Shorts[0]
		covered := s.Quantity.Min(q)
		s.Quantity = s.Quantity.Sub(covered)
		q = q.Sub(covered)
		if s.Quantity.IsZero() {
			m.Shorts = m.Shorts[1:]
		}
	}
	if !q.IsPositive() {
		return
	}
	m.Lots = append(m.Lots, Lot{
		Ref:        tx.Ref,
		Instrument: tx.Instrument,
		Purchased:  tx.Date,
		Quantity:   q,
		UnitCost:   tx.Price,
		FXRate:     tx.FXRate,
	})
}

func (m *Matching) sell(tx Transaction) {
	q := tx.Quantity.Abs()
	for len(m.Lots) > 0 && q.IsPositive() {
		l := &m.Lots[0]
		taken := l.Quantity.Min(q)
		ev := RealizedGainEvent{
			Instrument: tx.Instrument,
			SellRef:    tx.Ref,
			LotRef:     l.Ref,
			Sold:       tx.Date,
			Purchased:  l.Purchased,
			Quantity:   taken,
			Proceeds:   tx.Price.Mul(taken),
			CostBasis:  l.UnitCost.Mul(taken),
			SellFXRate: tx.FXRate,
			LotFXRate:  l.FXRate,
		}
		if ev.Proceeds.Currency() == ev.CostBasis.Currency() {
			ev.Gain = ev.Proceeds.Sub(ev.CostBasis)
		} else {
			m.Anomalies = append(m.Anomalies, fmt.Errorf("%w: sell %s in %s matched against lot %s in %s",
				ErrMalformedLedger, tx.Ref, ev.Proceeds.Currency(), l.Ref, ev.CostBasis.Currency()))
		}
		m.Events = append(m.Events, ev)

		l.Quantity = l.Quantity.Sub(taken)
		q = q.Sub(taken)
		if l.Quantity.IsZero() {
			m.Lots = m.Lots[1:]
		}
	}
	if q.IsPositive() {
		m.Anomalies = append(m.Anomalies, &OversellMatchError{
			Instrument: tx.Instrument,
			Date:       tx.Date,
			Ref:        tx.Ref,
			Excess:     q,
		})
		m.Shorts = append(m.Shorts, Lot{
			Ref:        tx.Ref,
			Instrument: tx.Instrument,
			Purchased:  tx.Date,
			Quantity:   q,
			UnitCost:   M(0, tx.Currency()),
		})
	}
}

// MatchLots replays the history of one instrument up to cutoff (inclusive)
// and matches sells against the oldest open lots first, splitting the last
// lot consumed when needed. Selling more than the open lots is reported as an
// *OversellMatchError and the excess is kept as a zero-cost short.
//
// The result only depends on the transactions and their order: the same
// history always gives the same lots and events.
func MatchLots(history []Transaction, cutoff Date) Matching {
	var m Matching
	for _, tx := range sortedHistory(history) {
		if tx.Date.After(cutoff) {
			break
		}
		m.Instrument = tx.Instrument
		if m.Currency == "" {
			m.Currency = tx.Currency()
		}
		switch {
		case tx.IsBuy():
			m.buy(tx)
		case tx.IsSell():
			m.sell(tx)
		}
	}
	return m
}

// InstrumentLots is the FIFO state of one instrument, ready to be reported.
type InstrumentLots struct {
	Instrument ID                  `json:"instrument"`
	Quantity   Quantity            `json:"quantity"`
	Cost       Money               `json:"cost"` // open lots, trade currency
	Lots       []Lot               `json:"lots"`
	Shorts     []Lot               `json:"shorts"`
	Events     []RealizedGainEvent `json:"events"`
}

// LotReport lists the open lots and realized events of a whole ledger.
type LotReport struct {
	On          Date             `json:"on"`
	Instruments []InstrumentLots `json:"instruments"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}

// OpenLots matches every instrument of the ledger up to 'on'. It needs no
// market data.
func OpenLots(l *Ledger, on Date) *LotReport {
	r := &LotReport{On: on, Instruments: []InstrumentLots{}}
	var diags []Diagnostic
	for _, id := range l.Instruments() {
		m := MatchLots(l.History(id, on), on)
		if len(m.Lots) == 0 && len(m.Shorts) == 0 && len(m.Events) == 0 {
			continue
		}
		r.Instruments = append(r.Instruments, InstrumentLots{
			Instrument: id,
			Quantity:   m.Quantity(),
			Cost:       m.Cost(),
			Lots:       nonNil(m.Lots),
			Shorts:     nonNil(m.Shorts),
			Events:     nonNil(m.Events),
		})
		diags = append(diags, anomalies(id, on, m.Anomalies)...)
		for _, lot := range m.Foreign() {
			diags = append(diags, excludedFromCost(id, lot.Purchased, lot.Ref, lot.UnitCost.Currency(), m.Currency))
		}
	}
	r.Diagnostics = nonNil(sortDiagnostics(diags))
	return r
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
