package folio

import (
	"fmt"
	"slices"
)

// Position is the holding of one instrument as of a date.
type Position struct {
	Instrument ID
	On         Date
	Quantity   Quantity // net signed quantity, Σ buys − Σ sells
	Cost       Money    // cost of the open quantity at weighted average, in the trade currency
}

// Open reports whether shares are held.
func (p Position) Open() bool { return p.Quantity.IsPositive() }

// Currency is the trade currency of the instrument.
func (p Position) Currency() string { return p.Cost.Currency() }

// AverageCost is the weighted average unit cost of the open quantity, zero when closed.
func (p Position) AverageCost() Money {
	if !p.Open() {
		return M(0, p.Cost.Currency())
	}
	return p.Cost.Div(p.Quantity)
}

// replay folds transactions of a single instrument one at a time. Feeding it
// the same ordered transactions always reaches the same state, whether they
// come in one batch or month by month.
type replay struct {
	pos   Position
	diags []Diagnostic
}

func (r *replay) apply(tx Transaction) {
	p := &r.pos
	p.On = tx.Date
	if p.Instrument == "" {
		p.Instrument = tx.Instrument
	}
	if p.Cost.Currency() == "" {
		p.Cost = M(0, tx.Currency())
	}

	prev := p.Quantity
	next := prev.Add(tx.Quantity)
	p.Quantity = next

	if tx.Currency() != p.Cost.Currency() {
		r.diags = append(r.diags, excludedFromCost(tx.Instrument, tx.Date, tx.Ref, tx.Currency(), p.Cost.Currency()))
	} else {
		switch {
		case tx.IsBuy() && !prev.IsNegative():
			p.Cost = p.Cost.Add(tx.Price.Mul(tx.Quantity))
		case tx.IsBuy() && next.IsPositive():
			// covering a short, only the remainder carries a cost
			p.Cost = tx.Price.Mul(next)
		case tx.IsSell() && prev.IsPositive() && next.IsPositive():
			// keep the average: cost shrinks in proportion of the shares left
			p.Cost = p.Cost.Mul(next).Div(prev)
		}
	}

	if !next.IsPositive() {
		// closed or short: a later buy starts a fresh basis
		p.Cost = M(0, p.Cost.Currency())
	}
	if next.IsNegative() && !prev.IsNegative() {
		r.diags = append(r.diags, Diagnostic{
			Kind:       DataError,
			Instrument: tx.Instrument,
			Date:       tx.Date,
			Message:    fmt.Sprintf("negative position %s after transaction %s", next, tx.Ref),
		})
	}
}

// excludedFromCost reports a transaction whose currency is not the one the
// position is held in.
func excludedFromCost(id ID, on Date, ref, currency, held string) Diagnostic {
	return Diagnostic{
		Kind:       DataError,
		Instrument: id,
		Date:       on,
		Message:    fmt.Sprintf("transaction %s in %s, position held in %s: excluded from cost", ref, currency, held),
	}
}

// sortedHistory returns a copy of txs in ledger order.
func sortedHistory(txs []Transaction) []Transaction {
	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, compareTransactions)
	return sorted
}

// Aggregate folds the history of one instrument up to cutoff (inclusive) into
// its net quantity and average cost. Transactions are sorted by date, ties
// keep their ledger order. A negative position is reported, not clamped.
func Aggregate(history []Transaction, cutoff Date) (Position, []Diagnostic) {
	var r replay
	for _, tx := range sortedHistory(history) {
		if tx.Date.After(cutoff) {
			break
		}
		r.apply(tx)
	}
	r.pos.On = cutoff
	return r.pos, r.diags
}
