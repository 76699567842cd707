package folio

import "fmt"

// Percent is a percentage, 12.5 means 12.5%.
type Percent float64

func (p Percent) String() string { return fmt.Sprintf("%.2f%%", float64(p)) }

// SignedString prints the sign of non zero percentages, and "-" for zero
// at the printed precision.
func (p Percent) SignedString() string {
	res := fmt.Sprintf("%+.2f%%", float64(p))
	if res == "+0.00%" || res == "-0.00%" {
		return "-"
	}
	return res
}

// Equal compares percentages to a hundredth of a basis point.
func (p Percent) Equal(q Percent) bool {
	const precision = 0.0001
	diff := p - q
	return diff < precision && diff > -precision
}
