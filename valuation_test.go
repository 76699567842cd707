package folio

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(gw Gateway, opts ...Option) *Engine {
	return NewEngine(testMarket(gw), opts...)
}

// scenarioLedger buys 100 @ 10, sells 40 @ 15, with 7 of fees.
func scenarioLedger() *Ledger {
	return ledgerOf(
		withFee(trade(AAPL, "2022-01-01", 100, 10), EUR(5)),
		withFee(trade(AAPL, "2023-06-01", -40, 15), EUR(2)),
	)
}

func scenarioGateway(on Date) *StaticGateway {
	return NewStaticGateway().
		SetTicker(AAPL, "AAPL.XETRA").
		SetPrice("AAPL.XETRA", on, EUR(20)).
		SetClassification("AAPL.XETRA", Classification{Sector: "Technology", Country: "USA"})
}

func TestEvaluate_Scenario(t *testing.T) {
	on := MustParse("2024-01-15")
	s, err := testEngine(scenarioGateway(on)).Evaluate(context.Background(), scenarioLedger(), on)
	require.NoError(t, err)

	require.Len(t, s.Positions, 1)
	p := s.Positions[0]
	assert.True(t, Q(60).Equal(p.Quantity))
	assertMoney(t, EUR(10), p.AverageCost)
	assert.True(t, p.PriceKnown)
	assertMoney(t, EUR(20), p.Price)

	assertMoney(t, EUR(600), s.Invested)
	assertMoney(t, EUR(1200), s.MarketValue)
	assertMoney(t, EUR(600), s.Unrealized)
	assertMoney(t, EUR(200), s.Realized)
	assertMoney(t, EUR(7), s.Fees)
	assertMoney(t, EUR(800), s.Profit())
	assertMoney(t, EUR(793), s.NetProfit())
	assertMoney(t, EUR(0), s.CurrencyImpact)
	assert.True(t, s.Return().Equal(100))
	assert.True(t, p.Weight.Equal(100))

	assert.True(t, s.Complete)
	assert.Empty(t, s.Diagnostics)
	require.Len(t, s.BySector, 1)
	assert.Equal(t, "Technology", s.BySector[0].Label)
}

func TestEvaluate_Idempotent(t *testing.T) {
	on := MustParse("2024-01-15")
	gw := scenarioGateway(on)
	l := scenarioLedger()
	l.Append(trade(VWCE, "2023-02-01", 3, 100)) // no market data: diagnostics must be stable too
	ctx := context.Background()

	e := testEngine(gw)
	first, err := e.Evaluate(ctx, l, on)
	require.NoError(t, err)
	again, err := e.Evaluate(ctx, l, on)
	require.NoError(t, err)
	fresh, err := testEngine(gw, WithConcurrency(1)).Evaluate(ctx, l, on)
	require.NoError(t, err)

	want, err := json.Marshal(first)
	require.NoError(t, err)
	got, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	got, err = json.Marshal(fresh)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestEvaluate_UnknownPrice(t *testing.T) {
	on := MustParse("2024-01-15")
	gw := NewStaticGateway().
		SetTicker(AAPL, "AAPL.XETRA").
		SetTicker(VWCE, "VWCE.XETRA").
		SetPrice("VWCE.XETRA", on, EUR(110))
	l := scenarioLedger()
	l.Append(trade(VWCE, "2023-02-01", 3, 100))

	s, err := testEngine(gw).Evaluate(context.Background(), l, on)
	require.NoError(t, err, "a missing price never aborts the evaluation")

	assert.False(t, s.Complete)
	aapl, ok := s.Position(AAPL)
	require.True(t, ok)
	assert.False(t, aapl.PriceKnown)
	assertMoney(t, EUR(0), aapl.MarketValue)
	assertMoney(t, EUR(600), aapl.Invested, "invested is still counted")

	vwce, ok := s.Position(VWCE)
	require.True(t, ok)
	assertMoney(t, EUR(330), vwce.MarketValue)
	assertMoney(t, EUR(330), s.MarketValue)
	assertMoney(t, EUR(900), s.Invested)

	var kinds []DiagnosticKind
	for _, d := range s.Diagnostics {
		if d.Instrument == AAPL {
			kinds = append(kinds, d.Kind)
		}
	}
	assert.Contains(t, kinds, LookupUnavailable)
}

func TestEvaluate_Foreign(t *testing.T) {
	on := MustParse("2024-06-28")
	gw := NewStaticGateway().
		SetTicker(AAPL, "AAPL.US").
		SetPrice("AAPL.US", on, USD(120)).
		SetRate("USD", on, dec("0.95")).
		SetClassification("AAPL.US", Classification{Sector: "Technology", Country: "USA"})
	l := ledgerOf(inUSD(trade(AAPL, "2024-01-02", 10, 100), "0.9"))

	s, err := testEngine(gw).Evaluate(context.Background(), l, on)
	require.NoError(t, err)
	assert.True(t, s.Complete, "%v", s.Diagnostics)

	assertMoney(t, EUR(900), s.Invested, "at the rate paid")
	assertMoney(t, EUR(1140), s.MarketValue, "at today's rate")
	assertMoney(t, EUR(50), s.CurrencyImpact)
	assertMoney(t, EUR(240), s.Unrealized)
	p, _ := s.Position(AAPL)
	assert.Equal(t, "USD", p.Currency)
	assertMoney(t, USD(100), p.AverageCost)
}

func TestEvaluate_MixedCurrencies(t *testing.T) {
	on := MustParse("2024-06-28")
	gw := NewStaticGateway().
		SetTicker(AAPL, "AAPL.US").
		SetPrice("AAPL.US", on, USD(120)).
		SetRate("USD", on, dec("0.9"))
	l := ledgerOf(
		inUSD(trade(AAPL, "2024-01-02", 10, 100), "0.9"),
		trade(AAPL, "2024-02-01", 5, 100),
	)

	s, err := testEngine(gw).Evaluate(context.Background(), l, on)
	require.NoError(t, err)

	assertMoney(t, EUR(900), s.Invested, "the EUR lot is excluded from cost")
	assertMoney(t, EUR(0), s.CurrencyImpact, "the USD rate did not move")
	assertMoney(t, EUR(1620), s.MarketValue)
	var kinds []DiagnosticKind
	for _, d := range s.Diagnostics {
		kinds = append(kinds, d.Kind)
	}
	assert.Contains(t, kinds, DataError)
}

func TestEvaluate_Oversell(t *testing.T) {
	on := MustParse("2024-01-15")
	l := ledgerOf(
		trade(AAPL, "2023-01-01", 5, 10),
		trade(AAPL, "2023-02-01", -8, 12),
		trade(VWCE, "2023-01-01", 1, 100),
	)
	gw := scenarioGateway(on).SetTicker(VWCE, "VWCE.XETRA").SetPrice("VWCE.XETRA", on, EUR(120))

	s, err := testEngine(gw).Evaluate(context.Background(), l, on)
	require.NoError(t, err)
	assertMoney(t, EUR(120), s.MarketValue, "other instruments are unaffected")
	assertMoney(t, EUR(10), s.Realized)
	require.Len(t, s.Closed, 1)
	assert.True(t, Q(-3).Equal(s.Closed[0].Quantity))

	var anomaly bool
	for _, d := range s.Diagnostics {
		if d.Kind == MatchingAnomaly {
			anomaly = true
			assert.Equal(t, MustParse("2023-02-01"), d.Date)
		}
	}
	assert.True(t, anomaly)
}

func TestEvaluate_Dividends(t *testing.T) {
	on := MustParse("2024-01-15")
	gw := scenarioGateway(on).
		AddDividend("AAPL.XETRA", Dividend{ExDate: MustParse("2022-06-01"), Amount: EUR(0.5)}).
		AddDividend("AAPL.XETRA", Dividend{ExDate: MustParse("2023-06-01"), Amount: EUR(1)}).
		AddDividend("AAPL.XETRA", Dividend{ExDate: MustParse("2024-06-01"), Amount: EUR(1)})

	s, err := testEngine(gw, WithDividendWithholding(dec("0.15"))).Evaluate(context.Background(), scenarioLedger(), on)
	require.NoError(t, err)

	// 100 held before 2022-06-01, still 100 the day before the 2023-06-01 sell
	assertMoney(t, EUR(150), s.Dividends)
	assertMoney(t, EUR(100), s.DividendsTTM)
	assertMoney(t, EUR(22.5), s.DividendTax)
	assertMoney(t, EUR(127.5), s.NetDividends())
	assertMoney(t, EUR(1000), s.ProjectedDividends)
	assert.True(t, s.DividendYield.Equal(Percent(100.0/12)))
}

type flatInflation map[int]decimal.Decimal

func (f flatInflation) CPI(ctx context.Context, on Date) (decimal.Decimal, error) {
	if v, ok := f[on.Year()]; ok {
		return v, nil
	}
	return decimal.Zero, errors.New("not published")
}

func TestEvaluate_Inflation(t *testing.T) {
	on := MustParse("2024-01-15")
	cpi := flatInflation{2022: dec("100"), 2024: dec("110")}
	s, err := testEngine(scenarioGateway(on), WithInflation(cpi)).Evaluate(context.Background(), scenarioLedger(), on)
	require.NoError(t, err)
	assert.True(t, s.InflationKnown)
	assertMoney(t, EUR(660), s.InflationAdjustedInvested)
	assertMoney(t, EUR(540), s.RealProfit)

	delete(cpi, 2022)
	s, err = testEngine(scenarioGateway(on), WithInflation(cpi)).Evaluate(context.Background(), scenarioLedger(), on)
	require.NoError(t, err)
	assert.False(t, s.InflationKnown)
	assert.True(t, s.Complete, "inflation is an optional figure")
}

func TestEvaluate_Errors(t *testing.T) {
	on := MustParse("2024-01-15")
	e := testEngine(scenarioGateway(on))

	_, err := e.Evaluate(context.Background(), NewLedger("USD"), on)
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err = e.Evaluate(ctx, scenarioLedger(), on)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZeroDenominators(t *testing.T) {
	assert.Equal(t, Percent(0), Ratio(EUR(10), EUR(0)))
	assert.Equal(t, Percent(0), Ratio(EUR(0), EUR(0)))
	assert.True(t, Ratio(EUR(1), EUR(4)).Equal(25))

	s, err := testEngine(NewStaticGateway()).Evaluate(context.Background(), NewLedger("EUR"), MustParse("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, Percent(0), s.Return())
	assert.Equal(t, Percent(0), s.DividendYield)
	assert.Empty(t, s.BySector)
}
