package folio

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

func hasAll(header []string, names ...string) bool {
	for _, n := range names {
		if !slices.Contains(header, n) {
			return false
		}
	}
	return true
}

func hasAny(header []string, names ...string) bool {
	return slices.ContainsFunc(names, func(n string) bool { return slices.Contains(header, n) })
}

// BrokerTransactions reads the "Transactions" export of the broker, in its
// Czech or English flavour. Dates are day first, the trade currency sits in
// the unnamed column after the price, the quantity is already signed.
type BrokerTransactions struct{}

var brokerFeeColumns = []string{"transaction and/or third-party fees", "transaction and/or third party fees", "transakční a/nebo externí poplatky"}

func (BrokerTransactions) Name() string { return "broker-transactions" }

func (BrokerTransactions) Detect(header []string) bool {
	return hasAll(header, "isin") &&
		hasAny(header, "datum", "date") &&
		hasAny(header, "počet", "quantity") &&
		hasAny(header, "cena", "price") &&
		hasAny(header, brokerFeeColumns...)
}

func (BrokerTransactions) Normalize(row Row) (Transaction, error) {
	var tx Transaction
	var err error
	if tx.Date, err = dateField("datum", row.Field("datum", "date")); err != nil {
		return tx, err
	}
	if tx.Instrument, err = idField("isin", row.Field("isin")); err != nil {
		return tx, err
	}
	qty, err := amountField("počet", row.Field("počet", "quantity"))
	if err != nil {
		return tx, err
	}
	tx.Quantity = Q(qty)
	price, err := amountField("cena", row.Field("cena", "price"))
	if err != nil {
		return tx, err
	}
	tx.Price = M(price, strings.ToUpper(row.Next("cena", "price")))

	fee, err := optionalAmount("fees", row.Field(brokerFeeColumns...))
	if err != nil {
		return tx, err
	}
	// fees are reported as negative cash movements
	tx.Fee = M(fee.Abs(), strings.ToUpper(row.Next(brokerFeeColumns...)))

	if tx.FXRate, err = brokerRate("směnný kurz", row.Field("směnný kurz", "exchange rate")); err != nil {
		return tx, err
	}
	tx.Memo = row.Field("produkt", "product")
	return tx, nil
}

// BrokerAccount reads the "Account statement" export of the broker. Trades
// are only described in free text, like
//
//	Nákup 10 Apple Inc@150,2 USD (US0378331005)
//	Sell 5 VANGUARD FTSE ALL-WORLD@98.5 EUR (IE00BK5BQT80)
//
// Rows that do not describe a trade are skipped.
type BrokerAccount struct{}

var tradeDescriptionRE = regexp.MustCompile(`(?i)^\s*(nákup|nakup|prodej|buy|sell)\s+(\d[\d\s.,]*?)\s+(.+?)@\s*(\d[\d\s.,]*)\s*([A-Z]{3})(?:\s*\(([A-Z0-9]{12})\))?`)

func (BrokerAccount) Name() string { return "broker-account" }

func (BrokerAccount) Detect(header []string) bool {
	return hasAny(header, "popis", "description") && hasAny(header, "datum", "date")
}

func (BrokerAccount) Normalize(row Row) (Transaction, error) {
	var tx Transaction
	desc := row.Field("popis", "description")
	match := tradeDescriptionRE.FindStringSubmatch(desc)
	if match == nil {
		return tx, errSkipRow
	}
	var err error
	if tx.Date, err = dateField("datum", row.Field("datum", "date")); err != nil {
		return tx, err
	}
	isin := row.Field("isin")
	if isin == "" {
		isin = match[6]
	}
	if tx.Instrument, err = idField("isin", isin); err != nil {
		return tx, err
	}
	qty, err := amountField("popis", match[2])
	if err != nil {
		return tx, err
	}
	switch strings.ToLower(match[1]) {
	case "prodej", "sell":
		qty = qty.Neg()
	}
	tx.Quantity = Q(qty)
	price, err := amountField("popis", match[4])
	if err != nil {
		return tx, err
	}
	tx.Price = M(price, strings.ToUpper(match[5]))
	if tx.FXRate, err = brokerRate("kurz", row.Field("kurz", "fx")); err != nil {
		return tx, err
	}
	tx.Memo = strings.TrimSpace(match[3])
	return tx, nil
}

// ManualEntries reads trades typed in the manual entry form.
type ManualEntries struct{}

func (ManualEntries) Name() string { return "manual" }

func (ManualEntries) Detect(header []string) bool {
	return hasAll(header, "ticker", "typ_obchodu") || hasAll(header, "ticker", "type", "shares")
}

func (ManualEntries) Normalize(row Row) (Transaction, error) {
	var tx Transaction
	var err error
	if tx.Instrument, err = idField("ticker", row.Field("ticker")); err != nil {
		return tx, err
	}
	if tx.Date, err = dateField("datum", row.Field("datum", "date")); err != nil {
		return tx, err
	}
	qty, err := amountField("pocet", row.Field("pocet", "počet", "shares"))
	if err != nil {
		return tx, err
	}
	kind := strings.ToLower(row.Field("typ_obchodu", "type"))
	switch kind {
	case "nákup", "nakup", "buy":
		qty = qty.Abs()
	case "prodej", "sell":
		qty = qty.Abs().Neg()
	default:
		return tx, &MalformedLedgerError{Field: "typ_obchodu", Value: kind, Err: errors.New("want nákup or prodej")}
	}
	tx.Quantity = Q(qty)
	price, err := amountField("cena", row.Field("cena", "price"))
	if err != nil {
		return tx, err
	}
	tx.Price = M(price, strings.ToUpper(row.Field("mena", "měna", "currency")))
	fee, err := optionalAmount("poplatky", row.Field("poplatky", "fees"))
	if err != nil {
		return tx, err
	}
	tx.Fee = M(fee, tx.Price.Currency())
	return tx, nil
}

// Generic reads the canonical columns: date, instrument (or isin, ticker,
// symbol), quantity, price and optionally currency, fee, fx_rate and side.
// With a side column, quantities are unsigned and the side gives the sign.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) Detect(header []string) bool {
	return hasAll(header, "date", "quantity", "price") && hasAny(header, "instrument", "isin", "ticker", "symbol")
}

func (Generic) Normalize(row Row) (Transaction, error) {
	var tx Transaction
	var err error
	if tx.Date, err = dateField("date", row.Field("date")); err != nil {
		return tx, err
	}
	if tx.Instrument, err = idField("instrument", row.Field("instrument", "isin", "ticker", "symbol")); err != nil {
		return tx, err
	}
	qty, err := amountField("quantity", row.Field("quantity"))
	if err != nil {
		return tx, err
	}
	switch side := strings.ToLower(row.Field("side")); side {
	case "":
	case "buy":
		qty = qty.Abs()
	case "sell":
		qty = qty.Abs().Neg()
	default:
		return tx, &MalformedLedgerError{Field: "side", Value: side, Err: errors.New("want buy or sell")}
	}
	tx.Quantity = Q(qty)
	price, err := amountField("price", row.Field("price"))
	if err != nil {
		return tx, err
	}
	tx.Price = M(price, strings.ToUpper(row.Field("currency")))
	fee, err := optionalAmount("fee", row.Field("fee", "fees"))
	if err != nil {
		return tx, err
	}
	tx.Fee = M(fee, strings.ToUpper(row.Field("fee_currency")))
	if tx.Fee.Currency() == "" {
		tx.Fee = M(fee, tx.Price.Currency())
	}
	if v := row.Field("fx_rate", "fxrate"); v != "" {
		r, err := amountField("fx_rate", v)
		if err != nil {
			return tx, err
		}
		tx.FXRate = decimal.NewNullDecimal(r)
	}
	tx.Memo = row.Field("memo", "note")
	return tx, nil
}
