package folio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func czechRules() TaxRules {
	return TaxRules{HoldingPeriod: Span{Years: 3}, AnnualLimit: M(100000, "CZK")}
}

func TestTaxRules_Exempt(t *testing.T) {
	rules := czechRules()
	tests := []struct {
		purchased, sold string
		exempt          bool
	}{
		{"2021-03-15", "2024-03-15", true},
		{"2021-03-15", "2024-03-14", false},
		{"2021-03-15", "2025-01-01", true},
		{"2020-02-29", "2023-03-01", true},
		{"2020-02-29", "2023-02-28", false},
	}
	for _, tt := range tests {
		t.Run(tt.purchased+"_"+tt.sold, func(t *testing.T) {
			assert.Equal(t, tt.exempt, rules.Exempt(MustParse(tt.purchased), MustParse(tt.sold)))
		})
	}
}

func taxEvents() []RealizedGainEvent {
	return MatchLots([]Transaction{
		trade(AAPL, "2020-01-10", 10, 100),
		trade(AAPL, "2023-06-01", 10, 100),
		trade(AAPL, "2024-02-01", -15, 150),
	}, MustParse("2024-12-31")).Events
}

func TestTaxExposure(t *testing.T) {
	gw := NewStaticGateway().SetRate("CZK", MustParse("2024-02-01"), dec("0.04"))
	report := TaxExposure(context.Background(), taxEvents(), czechRules(), testMarket(gw))

	require.Len(t, report.Lots, 2)
	assert.True(t, report.Lots[0].Exempt)
	assert.False(t, report.Lots[1].Exempt)
	assertMoney(t, M(18750, "CZK"), report.Lots[1].Proceeds)

	y, ok := report.Year(2024)
	require.True(t, ok)
	assertMoney(t, M(18750, "CZK"), y.TaxableProceeds)
	assertMoney(t, M(37500, "CZK"), y.ExemptProceeds)
	assertMoney(t, M(6250, "CZK"), y.TaxableGain)
	assertMoney(t, M(81250, "CZK"), y.Headroom)
	assert.True(t, y.UnderLimit)
	assert.True(t, y.Complete)
	assert.Empty(t, report.Diagnostics)

	_, ok = report.Year(2023)
	assert.False(t, ok)
}

func TestTaxExposure_OverLimit(t *testing.T) {
	rules := TaxRules{HoldingPeriod: Span{Years: 3}, AnnualLimit: EUR(500)}
	report := TaxExposure(context.Background(), taxEvents(), rules, testMarket(NewStaticGateway()))
	y, ok := report.Year(2024)
	require.True(t, ok)
	assertMoney(t, EUR(750), y.TaxableProceeds)
	assertMoney(t, EUR(0), y.Headroom, "headroom never goes negative")
	assert.False(t, y.UnderLimit)
}

func TestTaxExposure_UnknownRate(t *testing.T) {
	report := TaxExposure(context.Background(), taxEvents(), czechRules(), testMarket(NewStaticGateway()))
	y, ok := report.Year(2024)
	require.True(t, ok)
	assert.False(t, y.Complete)
	assert.False(t, report.Lots[0].Known)
	require.NotEmpty(t, report.Diagnostics)
	assert.Equal(t, LookupUnavailable, report.Diagnostics[0].Kind)
}

func TestEngine_TaxExposure(t *testing.T) {
	l := ledgerOf(
		trade(AAPL, "2020-01-10", 10, 100),
		trade(AAPL, "2023-06-01", 10, 100),
		trade(AAPL, "2024-02-01", -25, 150),
	)
	report, err := testEngine(NewStaticGateway()).TaxExposure(context.Background(), l, MustParse("2024-12-31"), TaxRules{HoldingPeriod: Span{Years: 3}})
	require.NoError(t, err)
	assert.Equal(t, "EUR", report.AnnualLimit.Currency())
	require.Len(t, report.Lots, 2)

	var anomaly bool
	for _, d := range report.Diagnostics {
		anomaly = anomaly || d.Kind == MatchingAnomaly
	}
	assert.True(t, anomaly, "the oversold excess is reported")
}
