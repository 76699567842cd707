package folio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_Conservation(t *testing.T) {
	history := []Transaction{
		trade(AAPL, "2024-01-03", 10, 100),
		trade(AAPL, "2024-01-05", 5, 120),
		trade(AAPL, "2024-01-05", -3, 125),
		trade(AAPL, "2024-01-09", -12, 130),
		trade(AAPL, "2024-01-12", 4, 90),
	}
	for day := range NewRange(MustParse("2024-01-01"), MustParse("2024-01-15")).Days() {
		var want Quantity
		for _, tx := range history {
			if !tx.Date.After(day) {
				want = want.Add(tx.Quantity)
			}
		}
		pos, _ := Aggregate(history, day)
		assert.True(t, want.Equal(pos.Quantity), "on %s: want %s, got %s", day, want, pos.Quantity)
		assert.Equal(t, day, pos.On)
	}
}

func TestAggregate_AverageCost(t *testing.T) {
	pos, diags := Aggregate([]Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		trade(AAPL, "2024-01-02", 10, 200),
		trade(AAPL, "2024-01-03", -5, 250),
	}, MustParse("2024-12-31"))
	assert.Empty(t, diags)
	assert.True(t, Q(15).Equal(pos.Quantity))
	assertMoney(t, EUR(2250), pos.Cost)
	assertMoney(t, EUR(150), pos.AverageCost())
	assert.True(t, pos.Open())
}

func TestAggregate_ResetAtZero(t *testing.T) {
	pos, diags := Aggregate([]Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		trade(AAPL, "2024-01-02", -10, 120),
		trade(AAPL, "2024-01-03", 5, 50),
	}, MustParse("2024-12-31"))
	assert.Empty(t, diags)
	assertMoney(t, EUR(250), pos.Cost)
	assertMoney(t, EUR(50), pos.AverageCost())
}

func TestAggregate_Negative(t *testing.T) {
	pos, diags := Aggregate([]Transaction{
		trade(AAPL, "2024-01-01", 5, 100),
		trade(AAPL, "2024-01-02", -8, 120),
	}, MustParse("2024-12-31"))
	assert.True(t, Q(-3).Equal(pos.Quantity), "negative positions are reported, not clamped")
	assert.False(t, pos.Open())
	assertMoney(t, EUR(0), pos.Cost)
	assertMoney(t, EUR(0), pos.AverageCost())
	require.Len(t, diags, 1)
	assert.Equal(t, DataError, diags[0].Kind)
	assert.Equal(t, MustParse("2024-01-02"), diags[0].Date)
}

func TestAggregate_CurrencyMismatch(t *testing.T) {
	pos, diags := Aggregate([]Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		inUSD(trade(AAPL, "2024-01-02", 5, 120), ""),
	}, MustParse("2024-12-31"))
	assert.True(t, Q(15).Equal(pos.Quantity))
	assertMoney(t, EUR(1000), pos.Cost)
	require.Len(t, diags, 1)
	assert.Equal(t, DataError, diags[0].Kind)
}

func TestAggregate_TiesKeepLedgerOrder(t *testing.T) {
	l := ledgerOf(
		trade(AAPL, "2024-01-01", 10, 100),
		trade(AAPL, "2024-01-01", -10, 110),
		trade(AAPL, "2024-01-01", 2, 50),
	)
	pos, diags := Aggregate(l.History(AAPL, MustParse("2024-01-01")), MustParse("2024-01-01"))
	assert.Empty(t, diags)
	assertMoney(t, EUR(100), pos.Cost)
}
