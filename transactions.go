package folio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// refNamespace scopes transaction references, so that the same raw row always
// yields the same Ref.
var refNamespace = uuid.MustParse("6f1c4e0a-5d7b-4b8e-9a51-2f0d3c9e7a41")

// NewRef computes the deterministic reference of a transaction from its
// origin: the adapter name, the line in the source and the raw row content.
func NewRef(source string, line int, raw ...string) string {
	key := fmt.Sprintf("%s|%d|%s", source, line, strings.Join(raw, "\x1f"))
	return uuid.NewSHA1(refNamespace, []byte(key)).String()
}

// Transaction is an immutable ledger entry: a buy (positive quantity) or a sell
// (negative quantity) of an instrument. Corrections are new offsetting transactions.
type Transaction struct {
	Ref        string              // stable reference, see NewRef
	Seq        int                 // original ledger order, used to break date ties
	Instrument ID                  // ISIN or ticker
	Date       Date                // trade date
	Quantity   Quantity            // signed, positive for buys
	Price      Money               // unit price in the trade currency
	Fee        Money               // fee, in its own currency
	FXRate     decimal.NullDecimal // value of one unit of trade currency in base currency, if recorded
	Source     string              // adapter that produced the transaction
	Memo       string
}

// IsBuy reports whether the transaction adds shares.
func (t Transaction) IsBuy() bool { return t.Quantity.IsPositive() }

// IsSell reports whether the transaction removes shares.
func (t Transaction) IsSell() bool { return t.Quantity.IsNegative() }

// Currency is the trade currency.
func (t Transaction) Currency() string { return t.Price.Currency() }

// Amount is the gross value of the trade, quantity times price, always positive.
func (t Transaction) Amount() Money { return t.Price.Mul(t.Quantity.Abs()) }

// Validate checks the transaction invariants. Invalid transactions are
// reported as *MalformedLedgerError.
func (t Transaction) Validate() error {
	var errs []error
	if t.Instrument == "" {
		errs = append(errs, &MalformedLedgerError{Field: "instrument", Err: errors.New("missing instrument")})
	}
	if t.Date.IsZero() {
		errs = append(errs, &MalformedLedgerError{Field: "date", Err: errors.New("missing date")})
	}
	if t.Quantity.IsZero() {
		errs = append(errs, &MalformedLedgerError{Field: "quantity", Err: errors.New("quantity must not be zero")})
	}
	if t.Price.IsNegative() {
		errs = append(errs, &MalformedLedgerError{Field: "price", Value: t.Price.Amount().String(), Err: errors.New("price must not be negative")})
	}
	if t.Price.Currency() == "" {
		errs = append(errs, &MalformedLedgerError{Field: "currency", Err: errors.New("missing currency")})
	}
	if t.Fee.IsNegative() {
		errs = append(errs, &MalformedLedgerError{Field: "fee", Value: t.Fee.Amount().String(), Err: errors.New("fee must not be negative")})
	}
	if t.FXRate.Valid && !t.FXRate.Decimal.IsPositive() {
		errs = append(errs, &MalformedLedgerError{Field: "fx_rate", Value: t.FXRate.Decimal.String(), Err: errors.New("fx rate must be positive")})
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return &MalformedLedgerError{Err: errors.Join(errs...)}
}

// MarshalJSON writes the fields in a fixed order. Prices and rates keep all
// their digits, they are source data, not presentation.
func (t Transaction) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("ref", t.Ref)
	w.Append("date", t.Date)
	w.Append("instrument", t.Instrument)
	w.Append("quantity", t.Quantity)
	w.Append("price", t.Price.Amount())
	w.Append("currency", t.Price.Currency())
	if !t.Fee.IsZero() {
		w.Append("fee", t.Fee.Amount())
		if t.Fee.Currency() != t.Price.Currency() {
			w.Append("feeCurrency", t.Fee.Currency())
		}
	}
	if t.FXRate.Valid {
		w.Append("fxRate", t.FXRate.Decimal)
	}
	w.Optional("source", t.Source)
	w.Optional("memo", t.Memo)
	return w.MarshalJSON()
}

// transactionJSON is the decoding shape of MarshalJSON.
type transactionJSON struct {
	Ref         string              `json:"ref"`
	Date        Date                `json:"date"`
	Instrument  ID                  `json:"instrument"`
	Quantity    Quantity            `json:"quantity"`
	Price       decimal.Decimal     `json:"price"`
	Currency    string              `json:"currency"`
	Fee         decimal.Decimal     `json:"fee"`
	FeeCurrency string              `json:"feeCurrency"`
	FXRate      decimal.NullDecimal `json:"fxRate"`
	Source      string              `json:"source"`
	Memo        string              `json:"memo"`
}

func (j transactionJSON) transaction() Transaction {
	feeCur := j.FeeCurrency
	if feeCur == "" {
		feeCur = j.Currency
	}
	return Transaction{
		Ref:        j.Ref,
		Instrument: j.Instrument,
		Date:       j.Date,
		Quantity:   j.Quantity,
		Price:      M(j.Price, j.Currency),
		Fee:        M(j.Fee, feeCur),
		FXRate:     j.FXRate,
		Source:     j.Source,
		Memo:       j.Memo,
	}
}
