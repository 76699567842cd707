package folio

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchLots_FIFO(t *testing.T) {
	history := []Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		trade(AAPL, "2024-01-02", 5, 120),
		trade(AAPL, "2024-01-03", -12, 130),
	}
	m := MatchLots(history, MustParse("2024-12-31"))

	require.Len(t, m.Events, 2, "one event per consumed lot slice")
	assert.True(t, Q(10).Equal(m.Events[0].Quantity))
	assert.Equal(t, MustParse("2024-01-01"), m.Events[0].Purchased)
	assertMoney(t, EUR(1000), m.Events[0].CostBasis)
	assertMoney(t, EUR(300), m.Events[0].Gain)

	assert.True(t, Q(2).Equal(m.Events[1].Quantity))
	assert.Equal(t, MustParse("2024-01-02"), m.Events[1].Purchased)
	assertMoney(t, EUR(240), m.Events[1].CostBasis)
	assertMoney(t, EUR(20), m.Events[1].Gain)

	var matched Quantity
	basis := EUR(0)
	for _, ev := range m.Events {
		matched = matched.Add(ev.Quantity)
		basis = basis.Add(ev.CostBasis)
		assert.Equal(t, MustParse("2024-01-03"), ev.Sold)
	}
	assert.True(t, Q(12).Equal(matched))
	assertMoney(t, EUR(1240), basis)

	require.Len(t, m.Lots, 1)
	assert.True(t, Q(3).Equal(m.Lots[0].Quantity))
	assertMoney(t, EUR(120), m.Lots[0].UnitCost)
	assert.Equal(t, history[1].Ref, m.Lots[0].Ref)
	assert.True(t, Q(3).Equal(m.Quantity()))
	assertMoney(t, EUR(360), m.Cost())
	assert.Empty(t, m.Anomalies)
	assert.Empty(t, m.Shorts)
}

func TestMatchLots_Deterministic(t *testing.T) {
	history := []Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		trade(AAPL, "2024-01-02", 5, 120),
		trade(AAPL, "2024-01-03", -12, 130),
		trade(AAPL, "2024-02-03", 7, 90),
		trade(AAPL, "2024-03-03", -6, 140),
	}
	encode := func(txs []Transaction) []byte {
		m := MatchLots(txs, MustParse("2024-12-31"))
		b, err := json.Marshal(struct {
			Lots   []Lot
			Events []RealizedGainEvent
		}{m.Lots, m.Events})
		require.NoError(t, err)
		return b
	}
	want := encode(history)
	assert.Equal(t, want, encode(history))

	reversed := slices.Clone(history)
	slices.Reverse(reversed)
	assert.Equal(t, want, encode(reversed), "input order of distinct dates must not matter")
}

func TestMatchLots_Oversell(t *testing.T) {
	history := []Transaction{
		trade(AAPL, "2024-01-01", 5, 100),
		trade(AAPL, "2024-01-02", -8, 110),
	}
	m := MatchLots(history, MustParse("2024-12-31"))

	require.Len(t, m.Anomalies, 1)
	assert.True(t, errors.Is(m.Anomalies[0], ErrOversell))
	var over *OversellMatchError
	require.ErrorAs(t, m.Anomalies[0], &over)
	assert.True(t, Q(3).Equal(over.Excess))
	assert.Equal(t, MustParse("2024-01-02"), over.Date)

	require.Len(t, m.Events, 1, "the matched part is still realized")
	assert.True(t, Q(5).Equal(m.Events[0].Quantity))
	require.Len(t, m.Shorts, 1)
	assertMoney(t, EUR(0), m.Shorts[0].UnitCost)
	assert.True(t, Q(-3).Equal(m.Quantity()))

	// a later buy covers the short first
	history = append(history, trade(AAPL, "2024-01-05", 4, 90))
	m = MatchLots(history, MustParse("2024-12-31"))
	assert.Empty(t, m.Shorts)
	require.Len(t, m.Lots, 1)
	assert.True(t, Q(1).Equal(m.Lots[0].Quantity))
	assert.True(t, Q(1).Equal(m.Quantity()))
}

func TestMatchLots_Cutoff(t *testing.T) {
	history := []Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		trade(AAPL, "2024-02-01", -10, 130),
	}
	m := MatchLots(history, MustParse("2024-01-31"))
	assert.Empty(t, m.Events)
	require.Len(t, m.Lots, 1)

	m = MatchLots(history, MustParse("2024-02-01"))
	assert.Len(t, m.Events, 1)
	assert.Empty(t, m.Lots)
}

func TestMatchLots_CurrencyMismatch(t *testing.T) {
	history := []Transaction{
		trade(AAPL, "2024-01-01", 10, 100),
		inUSD(trade(AAPL, "2024-02-01", -10, 130), ""),
	}
	m := MatchLots(history, MustParse("2024-12-31"))
	require.Len(t, m.Events, 1)
	assert.True(t, m.Events[0].Gain.IsZero())
	require.Len(t, m.Anomalies, 1)
	assert.ErrorIs(t, m.Anomalies[0], ErrMalformedLedger)
}

func TestOpenLots(t *testing.T) {
	l := ledgerOf(
		trade(AAPL, "2024-01-01", 10, 100),
		trade(VWCE, "2024-01-05", 4, 50),
		trade(AAPL, "2024-02-01", -4, 110),
		trade(VWCE, "2024-03-01", -6, 55),
	)
	r := OpenLots(l, MustParse("2024-12-31"))

	require.Len(t, r.Instruments, 2)
	byID := map[ID]InstrumentLots{}
	for _, il := range r.Instruments {
		byID[il.Instrument] = il
	}
	aapl := byID[AAPL]
	assert.True(t, Q(6).Equal(aapl.Quantity))
	assertMoney(t, EUR(600), aapl.Cost)
	require.Len(t, aapl.Events, 1)
	assertMoney(t, EUR(40), aapl.Events[0].Gain)

	vwce := byID[VWCE]
	assert.True(t, Q(-2).Equal(vwce.Quantity))
	assert.Empty(t, vwce.Lots)
	require.Len(t, vwce.Shorts, 1)

	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, MatchingAnomaly, r.Diagnostics[0].Kind)
	assert.Equal(t, MustParse("2024-03-01"), r.Diagnostics[0].Date)

	before := OpenLots(l, MustParse("2023-12-31"))
	assert.Empty(t, before.Instruments)
	assert.Empty(t, before.Diagnostics)
}

func TestOpenLots_MixedCurrencies(t *testing.T) {
	l := ledgerOf(
		trade(AAPL, "2024-01-01", 10, 100),
		inUSD(trade(AAPL, "2024-02-01", 5, 120), "0.9"),
	)
	var r *LotReport
	require.NotPanics(t, func() { r = OpenLots(l, MustParse("2024-12-31")) })

	require.Len(t, r.Instruments, 1)
	aapl := r.Instruments[0]
	assert.True(t, Q(15).Equal(aapl.Quantity))
	assert.Len(t, aapl.Lots, 2)
	assertMoney(t, EUR(1000), aapl.Cost, "the USD lot is left out")

	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, DataError, r.Diagnostics[0].Kind)
	assert.Equal(t, MustParse("2024-02-01"), r.Diagnostics[0].Date)
	assert.Contains(t, r.Diagnostics[0].Message, "excluded from cost")
}
