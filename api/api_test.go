package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/etnz/folio"
	"github.com/etnz/folio/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aapl folio.ID = "US0378331005"

func testLedger() *folio.Ledger {
	l := folio.NewLedger("EUR")
	l.Append(
		folio.Transaction{
			Ref:        "buy",
			Instrument: aapl,
			Date:       folio.MustParse("2024-01-10"),
			Quantity:   folio.Q(10),
			Price:      folio.M(15, "EUR"),
			Fee:        folio.M(0, "EUR"),
		},
		folio.Transaction{
			Ref:        "sell",
			Instrument: aapl,
			Date:       folio.MustParse("2024-03-10"),
			Quantity:   folio.Q(-2),
			Price:      folio.M(18, "EUR"),
			Fee:        folio.M(0, "EUR"),
		},
	)
	return l
}

func newEngine() *folio.Engine {
	gw := folio.NewStaticGateway().
		SetTicker(aapl, "AAPL.US").
		SetPrice("AAPL.US", folio.MustParse("2024-06-28"), folio.M(20, "EUR")).
		SetRate("CZK", folio.MustParse("2024-03-10"), decimal.RequireFromString("0.04"))
	return folio.NewEngine(folio.NewMarket(gw, "EUR", folio.MarketOptions{}))
}

func testServer(t *testing.T, ledger LedgerSource, opts Options) *httptest.Server {
	t.Helper()
	if ledger == nil {
		ledger = func(context.Context) (*folio.Ledger, error) { return testLedger(), nil }
	}
	if opts.Rules.AnnualLimit.Currency() == "" {
		opts.Rules = folio.TaxRules{HoldingPeriod: folio.Span{Years: 3}, AnnualLimit: folio.M(100000, "CZK")}
	}
	srv := httptest.NewServer(New(newEngine, ledger, opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestHealth(t *testing.T) {
	var h HealthResponse
	assert.Equal(t, http.StatusOK, get(t, testServer(t, nil, Options{}), "/healthz", &h))
	assert.Equal(t, "disabled", h.Store)

	st := openStore(t)
	srv := testServer(t, nil, Options{Store: st})
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz", &h))
	assert.Equal(t, HealthResponse{Status: "healthy", Store: "connected"}, h)

	require.NoError(t, st.Close())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, srv, "/healthz", &h))
	assert.Equal(t, "unhealthy", h.Status)
}

func TestReports(t *testing.T) {
	srv := testServer(t, nil, Options{})

	var snap folio.Snapshot
	require.Equal(t, http.StatusOK, get(t, srv, "/api/snapshot?on=2024-06-30", &snap))
	assert.Equal(t, folio.MustParse("2024-06-30"), snap.On)
	assert.Equal(t, "160", snap.MarketValue.Amount().String())
	assert.Equal(t, "6", snap.Realized.Amount().String())

	var series folio.Series
	require.Equal(t, http.StatusOK, get(t, srv, "/api/history?on=2024-06-30", &series))
	assert.Len(t, series.Months, 6)

	var tax folio.TaxReport
	require.Equal(t, http.StatusOK, get(t, srv, "/api/tax?on=2024-06-30", &tax))
	require.Len(t, tax.Years, 1)
	assert.Equal(t, "900", tax.Years[0].TaxableProceeds.Amount().String())

	var lots folio.LotReport
	require.Equal(t, http.StatusOK, get(t, srv, "/api/lots?on=2024-06-30", &lots))
	require.Len(t, lots.Instruments, 1)
	assert.Equal(t, "8", lots.Instruments[0].Quantity.String())
}

func TestErrors(t *testing.T) {
	var e ErrorResponse
	srv := testServer(t, nil, Options{})
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/snapshot?on=someday", &e))
	assert.Equal(t, "invalid date", e.Error)
	assert.Contains(t, e.Details, "someday")

	broken := testServer(t, func(context.Context) (*folio.Ledger, error) {
		return nil, &folio.MalformedLedgerError{Line: 3, Err: errors.New("bad json")}
	}, Options{})
	assert.Equal(t, http.StatusUnprocessableEntity, get(t, broken, "/api/lots", &e))
	assert.Equal(t, "cannot load ledger", e.Error)

	missing := testServer(t, func(context.Context) (*folio.Ledger, error) {
		return nil, errors.New("no such file")
	}, Options{})
	assert.Equal(t, http.StatusInternalServerError, get(t, missing, "/api/history", &e))

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/snapshots/2024-06-30", &e))
	assert.Equal(t, "no snapshot store", e.Error)
}

func TestStoredSnapshots(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	snap, err := newEngine().Evaluate(ctx, testLedger(), folio.MustParse("2024-06-30"))
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, "main", snap))

	srv := testServer(t, nil, Options{Store: st, Portfolio: "main"})

	var got folio.Snapshot
	require.Equal(t, http.StatusOK, get(t, srv, "/api/snapshots/2024-06-30", &got))
	assert.Equal(t, "160", got.MarketValue.Amount().String())

	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/snapshots/2024-06-29", &e))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/snapshots/June", &e))

	var entries []store.Entry
	require.Equal(t, http.StatusOK, get(t, srv, "/api/snapshots?from=2024-01-01&to=2024-12-31", &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, folio.MustParse("2024-06-30"), entries[0].On)
}

func TestCORS(t *testing.T) {
	srv := testServer(t, nil, Options{Origins: []string{"http://localhost:3000"}})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
