package folio

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// Sentinel errors, test them with errors.Is.
var (
	// ErrMalformedLedger indicates a ledger row that cannot become a Transaction.
	ErrMalformedLedger = errors.New("malformed ledger row")

	// ErrOversell indicates a sell larger than the open lots of the instrument.
	ErrOversell = errors.New("sell exceeds open lots")

	// ErrLookupUnavailable indicates that a collaborator has no answer for a lookup.
	ErrLookupUnavailable = errors.New("lookup unavailable")

	// ErrExternalTimeout indicates that a collaborator did not answer in time.
	// Lookups failing with it are retried before degrading to ErrLookupUnavailable.
	ErrExternalTimeout = errors.New("external timeout")

	// ErrUnknownFormat indicates an import whose header matches no adapter.
	ErrUnknownFormat = errors.New("unknown ledger format")
)

// MalformedLedgerError reports one rejected ledger row.
type MalformedLedgerError struct {
	Line  int    // 1-based line in the source, 0 if unknown
	Field string // offending field, if any
	Value string // offending raw value, if any
	Err   error
}

func (e *MalformedLedgerError) Error() string {
	msg := "malformed ledger row"
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d", e.Line)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (%q)", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedLedgerError) Unwrap() error { return e.Err }

func (e *MalformedLedgerError) Is(target error) bool { return target == ErrMalformedLedger }

// OversellMatchError reports a sell that could not be fully matched against open lots.
// The excess is carried as a zero-cost short until a later buy covers it.
type OversellMatchError struct {
	Instrument ID
	Date       Date
	Ref        string
	Excess     Quantity
}

func (e *OversellMatchError) Error() string {
	return fmt.Sprintf("%s: sell %s on %s exceeds open lots by %s", e.Instrument, e.Ref, e.Date, e.Excess)
}

func (e *OversellMatchError) Is(target error) bool { return target == ErrOversell }

// DiagnosticKind classifies a Diagnostic.
type DiagnosticKind string

const (
	DataError         DiagnosticKind = "data-error"
	MatchingAnomaly   DiagnosticKind = "matching-anomaly"
	LookupUnavailable DiagnosticKind = "lookup-unavailable"
	ExternalTimeout   DiagnosticKind = "external-timeout"
)

// Diagnostic is a non fatal problem found while evaluating a ledger.
type Diagnostic struct {
	Kind       DiagnosticKind `json:"kind"`
	Instrument ID             `json:"instrument,omitempty"`
	Date       Date           `json:"date"`
	Message    string         `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Instrument == "" {
		return fmt.Sprintf("%s %s: %s", d.Date, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s %s %s: %s", d.Date, d.Kind, d.Instrument, d.Message)
}

// diagnose classifies err into a Diagnostic.
func diagnose(id ID, on Date, err error) Diagnostic {
	kind := DataError
	switch {
	case errors.Is(err, ErrOversell):
		kind = MatchingAnomaly
	case errors.Is(err, ErrExternalTimeout):
		kind = ExternalTimeout
	case errors.Is(err, ErrLookupUnavailable):
		kind = LookupUnavailable
	}
	return Diagnostic{Kind: kind, Instrument: id, Date: on, Message: err.Error()}
}

// anomalies turns matching anomalies into diagnostics, dated on the offending
// sell when known.
func anomalies(id ID, on Date, errs []error) []Diagnostic {
	diags := make([]Diagnostic, 0, len(errs))
	for _, err := range errs {
		d := on
		var over *OversellMatchError
		if errors.As(err, &over) {
			d = over.Date
		}
		diags = append(diags, diagnose(id, d, err))
	}
	return diags
}

// sortDiagnostics orders diagnostics by date, instrument, kind and message, and drops duplicates.
func sortDiagnostics(diags []Diagnostic) []Diagnostic {
	slices.SortStableFunc(diags, func(a, b Diagnostic) int {
		return cmp.Or(
			a.Date.Compare(b.Date),
			cmp.Compare(a.Instrument, b.Instrument),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Message, b.Message),
		)
	})
	return slices.Compact(diags)
}
