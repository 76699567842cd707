// Package insee reads consumer price index series from the INSEE
// macro-economic database (bdm.insee.fr).
package insee

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/etnz/folio"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultSeries is the monthly consumer price index of all French households.
const DefaultSeries = "001759970"

const defaultBaseURL = "https://bdm.insee.fr"

// Index serves the values of one INSEE series as a folio.InflationIndex.
// The series is downloaded on first use and kept for the life of the Index.
type Index struct {
	idBank  string
	baseURL string
	since   folio.Date
	client  *http.Client
	log     zerolog.Logger

	mu     sync.Mutex
	series *Series
}

// Option configures an Index.
type Option func(*Index)

func WithBaseURL(u string) Option { return func(x *Index) { x.baseURL = strings.TrimSuffix(u, "/") } }

func WithHTTPClient(c *http.Client) Option { return func(x *Index) { x.client = c } }

func WithLogger(l zerolog.Logger) Option { return func(x *Index) { x.log = l } }

// WithSince sets the first date downloaded, defaults to 2000-01-01.
func WithSince(d folio.Date) Option { return func(x *Index) { x.since = d } }

// New returns an Index on the series idBank, DefaultSeries if empty.
func New(idBank string, opts ...Option) *Index {
	if idBank == "" {
		idBank = DefaultSeries
	}
	x := &Index{
		idBank:  idBank,
		baseURL: defaultBaseURL,
		since:   folio.NewDate(2000, time.January, 1),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(x)
	}
	x.log = x.log.With().Str("component", "insee").Str("series", idBank).Logger()
	return x
}

// FromSeries returns an Index serving an already parsed series.
func FromSeries(s *Series) *Index {
	return &Index{idBank: s.IDBank, series: s}
}

// CPI returns the latest value of the series for a period ending on or
// before 'on'.
func (x *Index) CPI(ctx context.Context, on folio.Date) (decimal.Decimal, error) {
	s, err := x.load(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	v, ok := s.At(on)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: series %s has no value on or before %s", folio.ErrLookupUnavailable, x.idBank, on)
	}
	return v, nil
}

func (x *Index) load(ctx context.Context) (*Series, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.series != nil {
		return x.series, nil
	}
	s, err := x.fetch(ctx, x.since, folio.Today())
	if err != nil {
		return nil, err
	}
	x.series = s
	return s, nil
}

// fetch downloads the zip archive of the series between from and to, and
// parses the values file it contains.
func (x *Index) fetch(ctx context.Context, from, to folio.Date) (*Series, error) {
	startQuarter := (from.Month()-1)/3 + 1
	endQuarter := (to.Month()-1)/3 + 1
	addr := fmt.Sprintf("%s/series/%s/csv?lang=fr&ordre=antechronologique&transposition=donneescolonne&periodeDebut=%d&anneeDebut=%d&periodeFin=%d&anneeFin=%d&revision=sansrevisions",
		x.baseURL, x.idBank, startQuarter, from.Year(), endQuarter, to.Year())
	x.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("downloading series")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := x.client.Do(req)
	if err != nil {
		var nerr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
			return nil, fmt.Errorf("%w: series %s: %w", folio.ErrExternalTimeout, x.idBank, err)
		}
		return nil, fmt.Errorf("%w: series %s: %w", folio.ErrLookupUnavailable, x.idBank, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: series %s: %s", folio.ErrExternalTimeout, x.idBank, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: series %s: %s", folio.ErrLookupUnavailable, x.idBank, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading series %s: %w", folio.ErrLookupUnavailable, x.idBank, err)
	}
	s, err := readArchive(body)
	if err != nil {
		return nil, fmt.Errorf("%w: series %s: %w", folio.ErrLookupUnavailable, x.idBank, err)
	}
	x.log.Info().Int("values", len(s.Points)).Time("updated", s.LastUpdate).Msg("series loaded")
	return s, nil
}

// readArchive finds the monthly or quarterly values file in an INSEE zip.
func readArchive(body []byte) (*Series, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}
	var found []string
	for _, f := range zr.File {
		found = append(found, f.Name)
		if f.Name != "valeurs_mensuelles.csv" && f.Name != "valeurs_trimestrielles.csv" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", f.Name, err)
		}
		defer rc.Close()
		return ParseSeries(rc)
	}
	return nil, fmt.Errorf("no values file in archive (found: %s)", strings.Join(found, ", "))
}

// Point is one value of a series, dated at the end of its period.
type Point struct {
	Date  folio.Date
	Value decimal.Decimal
}

// Series holds the data from an INSEE time series CSV file.
type Series struct {
	Libelle    string
	IDBank     string
	LastUpdate time.Time
	Points     []Point // sorted by date
}

// At returns the value of the latest period ending on or before 'on'.
func (s *Series) At(on folio.Date) (decimal.Decimal, bool) {
	i, found := slices.BinarySearchFunc(s.Points, on, func(p Point, d folio.Date) int { return p.Date.Compare(d) })
	if found {
		return s.Points[i].Value, true
	}
	if i == 0 {
		return decimal.Zero, false
	}
	return s.Points[i-1].Value, true
}

// parseInseeDate parses a string like "2025-T2" or "2025-08" into the date
// of the end of that period.
func parseInseeDate(s string) (folio.Date, error) {
	if year, q, ok := strings.Cut(s, "-T"); ok {
		y, err := strconv.Atoi(year)
		if err != nil {
			return folio.Date{}, fmt.Errorf("invalid year in quarterly date %q: %w", s, err)
		}
		quarter, err := strconv.Atoi(q)
		if err != nil || quarter < 1 || quarter > 4 {
			return folio.Date{}, fmt.Errorf("invalid quarter in quarterly date %q", s)
		}
		return folio.NewDate(y, time.Month(quarter*3)+1, 0), nil
	}
	year, month, ok := strings.Cut(s, "-")
	if !ok {
		return folio.Date{}, fmt.Errorf("unrecognized insee date format: %q", s)
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return folio.Date{}, fmt.Errorf("invalid year in monthly date %q: %w", s, err)
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return folio.Date{}, fmt.Errorf("invalid month in monthly date %q", s)
	}
	return folio.NewDate(y, time.Month(m)+1, 0), nil
}

// ParseSeries reads the INSEE CSV format: three header rows (label, idBank
// and last update), a column header row, then one row per period.
func ParseSeries(r io.Reader) (*Series, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) < 4 || len(records[0]) < 2 || len(records[1]) < 2 || len(records[2]) < 2 {
		return nil, fmt.Errorf("not enough records in csv to parse series")
	}

	series := &Series{
		Libelle: records[0][1],
		IDBank:  records[1][1],
	}
	series.LastUpdate, err = time.Parse("02/01/2006 15:04", records[2][1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse last update date %q: %w", records[2][1], err)
	}

	for _, rec := range records[4:] {
		if len(rec) < 2 || rec[1] == "" {
			continue
		}
		date, err := parseInseeDate(rec[0])
		if err != nil {
			return nil, err
		}
		val, err := decimal.NewFromString(rec[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse value %q for date %q: %w", rec[1], rec[0], err)
		}
		series.Points = append(series.Points, Point{Date: date, Value: val})
	}
	slices.SortStableFunc(series.Points, func(a, b Point) int { return a.Date.Compare(b.Date) })
	return series, nil
}
