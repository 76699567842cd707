package eodhd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/etnz/folio"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	json := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("api_token") != "secret" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/search/US0378331005", json(`[
		{"Code":"AAPL","Exchange":"US","ISIN":"US0378331005","Currency":"USD"},
		{"Code":"APC","Exchange":"XETRA","ISIN":"US0378331005","Currency":"EUR"},
		{"Code":"AAPL34","Exchange":"SA","ISIN":"BRAAPLBDR004","Currency":"BRL"}]`))
	mux.HandleFunc("/search/IE00BK5BQT80", json(`[]`))
	mux.HandleFunc("/search/IE00B4L5Y983", json(`[]`))
	mux.HandleFunc("/exchange-symbol-list/XETRA", json(`[{"Code":"VWCE","Exchange":"XETRA","Isin":"IE00BK5BQT80","Currency":"EUR"}]`))
	mux.HandleFunc("/exchange-symbol-list/US", json(`[]`))
	mux.HandleFunc("/exchange-symbol-list/EUFUND", json(`[]`))
	mux.HandleFunc("/eod/APC.XETRA", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("from") {
		case "2024-03-01":
			json(`[{"date":"2024-03-01","open":170,"close":171.5}]`)(w, r)
		default:
			json(`[]`)(w, r)
		}
	})
	mux.HandleFunc("/eod/USDEUR.FOREX", json(`[{"date":"2024-03-02","open":0.92,"close":0.93}]`))
	mux.HandleFunc("/eod/SLOW.US", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/div/APC.XETRA", json(`[{"date":"2024-05-10","value":0.23,"currency":"EUR"},{"date":"2024-08-09","value":0.24}]`))
	mux.HandleFunc("/fundamentals/APC.XETRA", json(`{"Code":"APC","Sector":"Technology","CountryName":"USA","CurrencyCode":"EUR"}`))
	mux.HandleFunc("/fundamentals/VWCE.XETRA", json(`{"Code":"VWCE","Type":"ETF","Category":"Global Large-Cap Blend Equity","CurrencyCode":"EUR"}`))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T) *Client {
	return New("secret", WithBaseURL(testServer(t).URL))
}

func TestClient_ResolveTicker(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	ticker, err := c.ResolveTicker(ctx, "US0378331005")
	require.NoError(t, err)
	assert.Equal(t, "APC.XETRA", ticker, "exchanges are tried in order of preference")

	ticker, err = c.ResolveTicker(ctx, "IE00BK5BQT80")
	require.NoError(t, err)
	assert.Equal(t, "VWCE.XETRA", ticker, "found in the exchange listing")

	_, err = c.ResolveTicker(ctx, "IE00B4L5Y983")
	assert.ErrorIs(t, err, folio.ErrLookupUnavailable)

	_, err = c.ResolveTicker(ctx, "AAPL")
	assert.ErrorIs(t, err, folio.ErrLookupUnavailable)
}

func TestClient_Price(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	p, err := c.Price(ctx, "APC.XETRA", folio.MustParse("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, "EUR", p.Currency())
	assert.True(t, p.Amount().Equal(decimal.RequireFromString("171.5")))

	_, err = c.Price(ctx, "APC.XETRA", folio.MustParse("2024-03-02"))
	assert.ErrorIs(t, err, folio.ErrLookupUnavailable)

	_, err = c.Price(ctx, "SLOW.US", folio.MustParse("2024-03-01"))
	assert.ErrorIs(t, err, folio.ErrExternalTimeout)

	_, err = New("wrong", WithBaseURL(testServer(t).URL)).Price(ctx, "APC.XETRA", folio.MustParse("2024-03-01"))
	assert.ErrorIs(t, err, folio.ErrLookupUnavailable)
}

func TestClient_FXRate(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	r, err := c.FXRate(ctx, "USD", folio.MustParse("2024-03-01"))
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.92")), "open of the next day, got %s", r)

	r, err = c.FXRate(ctx, "EUR", folio.MustParse("2024-03-01"))
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(1)))
}

func TestClient_Dividends(t *testing.T) {
	divs, err := testClient(t).Dividends(context.Background(), "APC.XETRA", folio.MustParse("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, divs, 2)
	assert.Equal(t, folio.MustParse("2024-05-10"), divs[0].ExDate)
	assert.Equal(t, "EUR", divs[1].Amount.Currency(), "missing currency is the trading currency")
}

func TestClient_Classify(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	cl, err := c.Classify(ctx, "APC.XETRA")
	require.NoError(t, err)
	assert.Equal(t, folio.Classification{Sector: "Technology", Country: "USA"}, cl)

	cl, err = c.Classify(ctx, "VWCE.XETRA")
	require.NoError(t, err)
	assert.Equal(t, "Global Large-Cap Blend Equity", cl.Sector)

	_, err = c.Classify(ctx, "NOPE.US")
	assert.ErrorIs(t, err, folio.ErrLookupUnavailable)
}

func TestClient_WithMarket(t *testing.T) {
	m := folio.NewMarket(testClient(t), "EUR", folio.MarketOptions{})
	q, err := m.Price(context.Background(), "APC.XETRA", folio.MustParse("2024-03-03"))
	require.NoError(t, err)
	assert.Equal(t, folio.MustParse("2024-03-01"), q.Date)
}

func TestDiskCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `[{"date":"2024-03-01","open":1,"close":2}]`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	ctx := context.Background()
	for range 2 {
		c := New("secret", WithBaseURL(srv.URL), WithDiskCache(dir))
		bars, err := c.fetchEOD(ctx, "X.US", folio.MustParse("2024-03-01"), folio.MustParse("2024-03-01"))
		require.NoError(t, err)
		require.Len(t, bars, 1)
	}
	assert.EqualValues(t, 1, calls.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "eodhd-daily-"), entries[0].Name())
}
