package folio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const (
	AAPL = ID("US0378331005")
	VWCE = ID("IE00BK5BQT80")
)

// EUR is a helper for test to create euro money from const
func EUR(v float64) Money { return M(v, "EUR") }

// USD is a helper for test to create usd money from const
func USD(v float64) Money { return M(v, "USD") }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// trade builds a transaction in EUR.
func trade(id ID, on string, qty float64, price float64) Transaction {
	return Transaction{
		Ref:        NewRef("test", 0, string(id), on, decimal.NewFromFloat(qty).String()),
		Instrument: id,
		Date:       MustParse(on),
		Quantity:   Q(qty),
		Price:      EUR(price),
		Fee:        EUR(0),
	}
}

func withFee(tx Transaction, fee Money) Transaction {
	tx.Fee = fee
	return tx
}

func inUSD(tx Transaction, rate string) Transaction {
	tx.Price = M(tx.Price.Amount(), "USD")
	tx.Fee = M(tx.Fee.Amount(), "USD")
	if rate != "" {
		tx.FXRate = decimal.NewNullDecimal(dec(rate))
	}
	return tx
}

func ledgerOf(txs ...Transaction) *Ledger {
	l := NewLedger("EUR")
	l.Append(txs...)
	return l
}

// assertMoney compares amounts and currencies exactly.
func assertMoney(t *testing.T, want, got Money, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want.Currency(), got.Currency(), msgAndArgs...)
	assert.True(t, want.Amount().Equal(got.Amount()), append([]any{"want %s, got %s", want.Amount(), got.Amount()}, msgAndArgs...)...)
}
