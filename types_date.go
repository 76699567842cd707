package folio

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const readDateFormat = "2006-1-2" // Permissive read date format (allows single-digit month/day).

// DateFormat is the format used to represent dates as strings in ISO-8601 format.
const DateFormat = "2006-01-02"

// Date represents a date with day-level granularity.
type Date struct {
	y int        // year
	m time.Month // month
	d int        // day
}

// NewDate returns a normalized Date for the given year, month, and day.
func NewDate(year int, month time.Month, day int) Date {
	d := Date{year, month, day}
	d.y, d.m, d.d = d.time().Date()
	return d
}

// Year returns current year.
func (d Date) Year() int { return d.y }

// Month returns the month of the date.
func (d Date) Month() time.Month { return d.m }

// Day returns current day of the month.
func (d Date) Day() int { return d.d }

// String format the date in ISO-8601.
func (d Date) String() string { return d.time().Format(DateFormat) }

// IsZero returns true if the date is the zero value.
func (d Date) IsZero() bool { return d.y == 0 && d.m == 0 && d.d == 0 }

// Weekday returns the day of the week for the date.
func (d Date) Weekday() time.Weekday { return d.time().Weekday() }

// time returns a time.Time that is a canonical representation of that day (at midnight UTC).
func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// Format returns a textual representation of the date value formatted according to the layout defined by the argument.
//
//	See the documentation for the [time.Format].
func (d Date) Format(format string) string { return d.time().Format(format) }

// Before reports whether the day d is before x.
func (d Date) Before(x Date) bool { return d.Compare(x) < 0 }

// After reports whether the day d is after x.
func (d Date) After(x Date) bool { return d.Compare(x) > 0 }

// Compare returns -1, 0 or +1 whether d is before, equal or after x.
func (d Date) Compare(x Date) int {
	switch {
	case d.y != x.y:
		return cmpInt(d.y, x.y)
	case d.m != x.m:
		return cmpInt(int(d.m), int(x.m))
	default:
		return cmpInt(d.d, x.d)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Today returns the current date.
func Today() Date { return NewDate(time.Now().Date()) }

// Add returns a new Date with the given number of days added.
func (d Date) Add(i int) Date { return NewDate(d.y, d.m, d.d+i) }

// AddMonth returns a new Date with the given number of months added.
func (d Date) AddMonth(i int) Date { return NewDate(d.y, d.m+time.Month(i), d.d) }

// AddSpan adds a calendar duration: years first, then months, then days.
// Overflowing days are normalized, so 2020-02-29 plus one year is 2021-03-01.
func (d Date) AddSpan(s Span) Date {
	return NewDate(d.y+s.Years, d.m+time.Month(s.Months), d.d+s.Days)
}

// DaysUntil returns the number of days from d to x (negative if x is before d).
func (d Date) DaysUntil(x Date) int {
	return int(x.time().Sub(d.time()).Hours() / 24)
}

// StartOf returns the date of begining of a given period
func (d Date) StartOf(period Period) Date {
	switch period {
	case Daily:
		return d
	case Weekly:
		offset := int(d.Weekday() - time.Monday)
		for offset < 0 {
			offset += 7
		}
		return d.Add(-offset)
	case Monthly:
		return NewDate(d.y, d.m, 1)
	case Quarterly:
		quarter := (d.m - 1) / 3
		return NewDate(d.y, quarter*3+1, 1)
	case Yearly:
		return NewDate(d.y, time.January, 1)
	default:
		panic("unknown period")
	}
}

// EndOf returns the date of end of a given period
func (d Date) EndOf(period Period) Date {
	switch period {
	case Daily:
		return d
	case Weekly:
		return d.StartOf(Weekly).Add(6)
	case Monthly:
		return NewDate(d.y, d.m+1, 0)
	case Quarterly:
		quarter := (d.m - 1) / 3
		return NewDate(d.y, quarter*3+4, 0) // day 0 of the next quarter's first month
	case Yearly:
		return NewDate(d.y+1, time.January, 0)
	default:
		panic("unknown period")
	}
}

var relativeDateRE = regexp.MustCompile(`^([+-])(\d+)([dwmqy])$`)

// datePartRE captures the date of a date-time, ISO or day first.
var datePartRE = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[-./] ?\d{1,2}[-./] ?\d{4})(?:[T ].*)?$`)

// layouts accepted by ParseDate after ISO, broker exports write day first.
var dayFirstLayouts = []string{
	"2-1-2006",
	"2.1.2006",
	"2/1/2006",
	"2. 1. 2006",
}

// ParseDate parses a Date from a string. It is lenient: it accepts ISO dates
// like "2025-7-1", day-first dates like "01-07-2025" or "1.7.2025", and
// relative dates like "-1m" or "+2w". An optional time part after a space or
// a 'T' is ignored.
func ParseDate(str string) (Date, error) {
	str = strings.TrimSpace(str)
	if str == "0d" {
		return Today(), nil
	}

	if match := relativeDateRE.FindStringSubmatch(str); match != nil {
		num, err := strconv.Atoi(match[2])
		if err != nil {
			return Date{}, fmt.Errorf("invalid number in relative date %q: %w", str, err)
		}
		if match[1] == "-" {
			num = -num
		}
		today := Today()
		switch match[3] {
		case "d":
			return today.Add(num), nil
		case "w":
			return today.Add(num * 7), nil
		case "m":
			return today.AddMonth(num), nil
		case "q":
			return today.AddMonth(num * 3), nil
		case "y":
			return today.AddSpan(Span{Years: num}), nil
		}
	}

	day := str
	if match := datePartRE.FindStringSubmatch(str); match != nil {
		day = match[1]
	}
	if on, err := time.Parse(readDateFormat, day); err == nil {
		return NewDate(on.Date()), nil
	}
	for _, layout := range dayFirstLayouts {
		if on, err := time.Parse(layout, day); err == nil {
			return NewDate(on.Date()), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q want format %q", str, DateFormat)
}

// MustParse is like ParseDate but panics on error.
func MustParse(str string) Date {
	d, err := ParseDate(str)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// UnmarshalJSON implements the json specific way to unmarshall a date from a json string.
func (d *Date) UnmarshalJSON(bytes []byte) error {
	var str string
	if err := json.Unmarshal(bytes, &str); err != nil {
		return err
	}
	if str == "" {
		*d = Date{}
		return nil
	}
	// Keep this parsing strict, as it's for data files.
	on, err := time.Parse(readDateFormat, str)
	if err != nil {
		return fmt.Errorf("invalid date %q in data file, want format %q: %w", str, DateFormat, err)
	}
	*d = NewDate(on.Date())
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	var str string
	if !d.IsZero() {
		str = d.String()
	}
	return json.Marshal(&str)
}

var _ json.Marshaler = (*Date)(nil)
var _ json.Unmarshaler = (*Date)(nil)

// Span is a calendar duration, as opposed to a fixed number of days.
type Span struct {
	Years, Months, Days int
}

var spanRE = regexp.MustCompile(`(\d+)([ymwd])`)

// ParseSpan parses spans like "3y", "6m", "1y6m", "2w" or "90d".
func ParseSpan(str string) (Span, error) {
	str = strings.ToLower(strings.ReplaceAll(str, " ", ""))
	if str == "" {
		return Span{}, fmt.Errorf("empty span")
	}
	var s Span
	consumed := 0
	for _, m := range spanRE.FindAllStringSubmatch(str, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Span{}, fmt.Errorf("invalid span %q: %w", str, err)
		}
		switch m[2] {
		case "y":
			s.Years += n
		case "m":
			s.Months += n
		case "w":
			s.Days += 7 * n
		case "d":
			s.Days += n
		}
		consumed += len(m[0])
	}
	if consumed != len(str) {
		return Span{}, fmt.Errorf("invalid span %q want something like \"3y\" or \"1y6m\"", str)
	}
	return s, nil
}

// IsZero reports whether the span has no length.
func (s Span) IsZero() bool { return s == Span{} }

func (s Span) String() string {
	if s.IsZero() {
		return "0d"
	}
	var b strings.Builder
	if s.Years != 0 {
		fmt.Fprintf(&b, "%dy", s.Years)
	}
	if s.Months != 0 {
		fmt.Fprintf(&b, "%dm", s.Months)
	}
	if s.Days != 0 {
		fmt.Fprintf(&b, "%dd", s.Days)
	}
	return b.String()
}

// MarshalText and UnmarshalText let a Span be used in config files.
func (s Span) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Span) UnmarshalText(text []byte) error {
	v, err := ParseSpan(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
