package folio

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// isinRegex checks for the basic structure: 2 letters, 9 alphanumeric, 1 digit.
var isinRegex = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// currencyCodeRegex checks for the format: 3 uppercase letters.
var currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// tickerRegex accepts exchange tickers like "AAPL", "BRK-B" or "VWCE.DE".
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,19}$`)

// ID identifies an instrument in the ledger. It is either an ISIN (ISO 6166)
// or an exchange ticker when the broker does not report an ISIN.
type ID string

// ParseID normalizes and validates an instrument identifier.
func ParseID(s string) (ID, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty instrument identifier")
	}
	if isinRegex.MatchString(s) {
		if err := ValidateISIN(s); err != nil {
			return "", fmt.Errorf("invalid ISIN %q: %w", s, err)
		}
		return ID(s), nil
	}
	if !tickerRegex.MatchString(s) {
		return "", fmt.Errorf("invalid instrument identifier %q: want an ISIN or a ticker", s)
	}
	return ID(s), nil
}

// IsISIN reports whether the identifier is a valid ISIN.
func (id ID) IsISIN() bool { return ValidateISIN(string(id)) == nil }

// String implements the fmt.Stringer interface.
func (id ID) String() string { return string(id) }

// ValidateISIN checks if a string is a validly formatted ISIN.
// It returns nil if valid, or a descriptive error if invalid.
func ValidateISIN(isin string) error {
	if len(isin) != 12 {
		return fmt.Errorf("invalid length: must be 12 characters, got %d", len(isin))
	}
	if !isinRegex.MatchString(isin) {
		return fmt.Errorf("invalid format: must be 2 uppercase letters, 9 alphanumeric chars, and 1 digit")
	}

	// Letters count for two digits (A=10 ... Z=35).
	var numeric strings.Builder
	for _, char := range isin[:11] {
		if char >= 'A' && char <= 'Z' {
			numeric.WriteString(strconv.Itoa(int(char - 'A' + 10)))
		} else {
			numeric.WriteRune(char)
		}
	}

	// Luhn, doubling from the rightmost digit of the payload.
	sum := 0
	double := true
	digits := numeric.String()
	for i := len(digits) - 1; i >= 0; i-- {
		digit := int(digits[i] - '0')
		if double {
			digit *= 2
		}
		sum += digit/10 + digit%10
		double = !double
	}

	expected := (10 - sum%10) % 10
	if actual := int(isin[11] - '0'); expected != actual {
		return fmt.Errorf("invalid check digit: expected %d, got %d", expected, actual)
	}
	return nil
}

// ValidateCurrency checks an ISO 4217 currency code format.
func ValidateCurrency(code string) error {
	if !currencyCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid currency %q: must be 3 uppercase letters", code)
	}
	return nil
}
