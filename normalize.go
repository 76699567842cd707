package folio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// Row is one raw record of an import, with the header of its file.
type Row struct {
	Line   int
	Header []string // normalized: lower case, trimmed
	Values []string
}

// index returns the position of the first column named like one of names.
func (r Row) index(names ...string) int {
	for _, n := range names {
		for i, h := range r.Header {
			if h == n && i < len(r.Values) {
				return i
			}
		}
	}
	return -1
}

// Field returns the trimmed value of the first column named like one of names.
func (r Row) Field(names ...string) string {
	if i := r.index(names...); i >= 0 {
		return strings.TrimSpace(r.Values[i])
	}
	return ""
}

// Next returns the value of the column following the named one. Broker
// exports put currencies in unnamed columns right after the amounts.
func (r Row) Next(names ...string) string {
	if i := r.index(names...); i >= 0 && i+1 < len(r.Values) {
		return strings.TrimSpace(r.Values[i+1])
	}
	return ""
}

// Adapter converts the rows of one source format into Transactions.
//
// Normalize may leave the price and fee currencies empty, Import then
// applies the base currency. It returns errSkipRow for rows that are not
// trades (deposits, interests...).
type Adapter interface {
	Name() string
	Detect(header []string) bool
	Normalize(row Row) (Transaction, error)
}

// errSkipRow marks rows that carry no trade.
var errSkipRow = errors.New("not a trade")

// Adapters lists the supported formats, in detection order.
var Adapters = []Adapter{
	BrokerTransactions{},
	BrokerAccount{},
	ManualEntries{},
	Generic{},
}

// AdapterByName returns the adapter with that name.
func AdapterByName(name string) (Adapter, error) {
	for _, a := range Adapters {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no adapter named %q", ErrUnknownFormat, name)
}

// DetectAdapter returns the first adapter recognizing the header.
func DetectAdapter(header []string) (Adapter, error) {
	for _, a := range Adapters {
		if a.Detect(header) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: header %q", ErrUnknownFormat, strings.Join(header, ","))
}

// ImportOptions configures Import.
type ImportOptions struct {
	Base   string // currency applied when a row has none
	Source string // name of the input, part of every transaction Ref
	Format string // adapter name, detected from the header when empty
	Logger zerolog.Logger
}

// ImportReport is the outcome of an import: the transactions of the valid
// rows and one error per rejected row.
type ImportReport struct {
	Adapter      string
	Rows         int
	Skipped      int
	Transactions []Transaction
	Errors       []*MalformedLedgerError
}

// Import reads a CSV export and normalizes every row. A bad row is recorded
// in the report and the import goes on. Only an unreadable input or an
// unknown format fails the whole import.
func Import(r io.Reader, opts ImportOptions) (*ImportReport, error) {
	log := opts.Logger.With().Str("component", "import").Str("source", opts.Source).Logger()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", opts.Source, err)
	}
	if !utf8.Valid(data) {
		// exports saved by spreadsheet tools are often latin-1
		if data, err = charmap.ISO8859_1.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("cannot decode %s: %w", opts.Source, err)
		}
		log.Debug().Msg("decoded as ISO-8859-1")
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("cannot read header of %s: %w", opts.Source, err)
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var adapter Adapter
	if opts.Format != "" {
		adapter, err = AdapterByName(opts.Format)
	} else {
		adapter, err = DetectAdapter(header)
	}
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Adapter: adapter.Name()}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			report.Rows++
			line := 0
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				line = pe.StartLine
			}
			report.Errors = append(report.Errors, &MalformedLedgerError{Line: line, Err: err})
			continue
		}
		line, _ := cr.FieldPos(0)
		if isBlank(record) {
			continue
		}
		report.Rows++

		tx, err := adapter.Normalize(Row{Line: line, Header: header, Values: record})
		if errors.Is(err, errSkipRow) {
			report.Skipped++
			continue
		}
		if err == nil {
			tx = withDefaults(tx, opts.Base)
			tx.Ref = NewRef(adapter.Name()+":"+opts.Source, line, record...)
			tx.Source = adapter.Name()
			err = tx.Validate()
		}
		if err != nil {
			report.Errors = append(report.Errors, rowError(line, err))
			log.Debug().Int("line", line).Err(err).Msg("row rejected")
			continue
		}
		report.Transactions = append(report.Transactions, tx)
	}
	log.Info().Str("adapter", report.Adapter).Int("transactions", len(report.Transactions)).Int("errors", len(report.Errors)).Msg("imported")
	return report, nil
}

func withDefaults(tx Transaction, base string) Transaction {
	if tx.Price.Currency() == "" {
		tx.Price = M(tx.Price.Amount(), base)
	}
	if tx.Fee.Currency() == "" {
		tx.Fee = M(tx.Fee.Amount(), base)
	}
	return tx
}

func rowError(line int, err error) *MalformedLedgerError {
	var me *MalformedLedgerError
	if errors.As(err, &me) {
		e := *me
		e.Line = line
		return &e
	}
	return &MalformedLedgerError{Line: line, Err: err}
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// sniffDelimiter picks ';' when the first line has more of them than commas.
func sniffDelimiter(data []byte) rune {
	first, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		return ';'
	}
	return ','
}

// parseAmount parses numbers written with a comma or a dot as decimal
// separator, and spaces, dots or commas as thousands separators.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, errors.New("empty number")
	}
	lastComma, lastDot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0:
		s = strings.ReplaceAll(s, ",", "")
	}
	return decimal.NewFromString(s)
}

// field helpers return *MalformedLedgerError naming the field.

func required(field, value string) error {
	if value == "" {
		return &MalformedLedgerError{Field: field, Err: errors.New("missing required field")}
	}
	return nil
}

func amountField(field, value string) (decimal.Decimal, error) {
	if err := required(field, value); err != nil {
		return decimal.Zero, err
	}
	d, err := parseAmount(value)
	if err != nil {
		return decimal.Zero, &MalformedLedgerError{Field: field, Value: value, Err: err}
	}
	return d, nil
}

// optionalAmount parses value when present, zero otherwise.
func optionalAmount(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return amountField(field, value)
}

func dateField(field, value string) (Date, error) {
	if err := required(field, value); err != nil {
		return Date{}, err
	}
	d, err := ParseDate(value)
	if err != nil {
		return Date{}, &MalformedLedgerError{Field: field, Value: value, Err: err}
	}
	return d, nil
}

func idField(field, value string) (ID, error) {
	if err := required(field, value); err != nil {
		return "", err
	}
	id, err := ParseID(value)
	if err != nil {
		return "", &MalformedLedgerError{Field: field, Value: value, Err: err}
	}
	return id, nil
}

// brokerRate converts a broker exchange rate, quoted as units of trade
// currency per unit of base currency, into the value of one trade currency
// unit in base. Empty or unit rates are not recorded.
func brokerRate(field, value string) (decimal.NullDecimal, error) {
	if value == "" {
		return decimal.NullDecimal{}, nil
	}
	r, err := amountField(field, value)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if r.IsZero() || r.Equal(decimal.NewFromInt(1)) {
		return decimal.NullDecimal{}, nil
	}
	if r.IsNegative() {
		return decimal.NullDecimal{}, &MalformedLedgerError{Field: field, Value: value, Err: errors.New("negative exchange rate")}
	}
	return decimal.NewNullDecimal(decimal.NewFromInt(1).Div(r)), nil
}
