package folio

import (
	"cmp"
	"iter"
	"slices"
)

// Ledger is the authoritative list of transactions of a portfolio.
//
// In a Ledger transactions are always in chronological order, ties being
// broken by the order in which they were appended.
type Ledger struct {
	base         string
	transactions []Transaction
}

// NewLedger creates an empty ledger valued in the base currency.
func NewLedger(base string) *Ledger {
	return &Ledger{base: base}
}

// Base returns the currency used to value the portfolio.
func (l *Ledger) Base() string { return l.base }

// Len returns the number of transactions.
func (l *Ledger) Len() int { return len(l.transactions) }

// Append adds transactions to the ledger. Each one gets the next sequence
// number, so that the original order survives the chronological sort.
func (l *Ledger) Append(txs ...Transaction) {
	for _, tx := range txs {
		tx.Seq = len(l.transactions)
		l.transactions = append(l.transactions, tx)
	}
	slices.SortStableFunc(l.transactions, compareTransactions)
}

// compareTransactions is the total order of the ledger: date, then sequence.
func compareTransactions(a, b Transaction) int {
	return cmp.Or(a.Date.Compare(b.Date), cmp.Compare(a.Seq, b.Seq))
}

// Transactions iterates over all transactions in chronological order.
func (l *Ledger) Transactions() iter.Seq[Transaction] {
	return slices.Values(l.transactions)
}

// Until iterates over transactions dated on or before 'on'.
func (l *Ledger) Until(on Date) iter.Seq[Transaction] {
	return func(yield func(Transaction) bool) {
		for _, tx := range l.transactions {
			if tx.Date.After(on) {
				return
			}
			if !yield(tx) {
				return
			}
		}
	}
}

// Instruments returns every instrument in order of first appearance.
func (l *Ledger) Instruments() []ID {
	var ids []ID
	seen := make(map[ID]bool)
	for _, tx := range l.transactions {
		if !seen[tx.Instrument] {
			seen[tx.Instrument] = true
			ids = append(ids, tx.Instrument)
		}
	}
	return ids
}

// History returns the transactions of one instrument dated on or before cutoff.
func (l *Ledger) History(id ID, cutoff Date) []Transaction {
	var txs []Transaction
	for tx := range l.Until(cutoff) {
		if tx.Instrument == id {
			txs = append(txs, tx)
		}
	}
	return txs
}

// First returns the date of the earliest transaction, or the zero Date.
func (l *Ledger) First() Date {
	if len(l.transactions) == 0 {
		return Date{}
	}
	return l.transactions[0].Date
}

// Last returns the date of the latest transaction, or the zero Date.
func (l *Ledger) Last() Date {
	if len(l.transactions) == 0 {
		return Date{}
	}
	return l.transactions[len(l.transactions)-1].Date
}

// Contains reports whether a transaction with that reference is already recorded.
func (l *Ledger) Contains(ref string) bool {
	return slices.ContainsFunc(l.transactions, func(tx Transaction) bool { return tx.Ref == ref })
}
