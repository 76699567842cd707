// Package agent asks a Gemini model to comment on a portfolio. The model can
// call back the folio reports of the portfolio to ground its commentary.
package agent

import (
	"context"
	"fmt"

	"github.com/etnz/folio"
	"github.com/etnz/folio/renderer"
	"google.golang.org/genai"
)

// Portfolio gives an expert access to the reports of one ledger.
type Portfolio struct {
	Engine *folio.Engine
	Ledger *folio.Ledger
	Rules  folio.TaxRules
}

var dateParameter = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"date": {
			Type:        genai.TypeString,
			Description: `The date of the report, today if omitted. Either YYYY-MM-DD or relative to today like "-1m", "-2w" or "-1y".`,
		},
	},
}

// report declares a function rendering one markdown report at a date.
func report(name, description string, render func(ctx context.Context, on folio.Date) (string, error)) *Func {
	return &Func{
		Decl: &genai.FunctionDeclaration{
			Name:        name,
			Description: description,
			Parameters:  dateParameter,
			Response: &genai.Schema{
				Type:        genai.TypeString,
				Description: "A markdown report.",
			},
		},
		Func: func(ctx context.Context, id string, args map[string]any) *genai.FunctionResponse {
			on, err := parseDate(args)
			if err != nil {
				return errResponse(id, name, err)
			}
			out, err := render(ctx, on)
			if err != nil {
				return errResponse(id, name, err)
			}
			return &genai.FunctionResponse{ID: id, Name: name, Response: map[string]any{"output": out}}
		},
	}
}

// Functions lists the reports an expert can request.
func (p Portfolio) Functions() []Function {
	return []Function{
		report("snapshot", "Valuation of the portfolio at a date: invested amount, market value, profits, dividends, positions and allocation.",
			func(ctx context.Context, on folio.Date) (string, error) {
				s, err := p.Engine.Evaluate(ctx, p.Ledger, on)
				if err != nil {
					return "", err
				}
				return renderer.SnapshotMarkdown(s), nil
			}),
		report("history", "Month by month market value and profit of the portfolio up to a date, with yearly sums.",
			func(ctx context.Context, on folio.Date) (string, error) {
				s, err := p.Engine.History(ctx, p.Ledger, on)
				if err != nil {
					return "", err
				}
				return renderer.HistoryMarkdown(s), nil
			}),
		report("tax", "Capital gains tax exposure: exempt and taxable sales per year compared to the annual limit.",
			func(ctx context.Context, on folio.Date) (string, error) {
				r, err := p.Engine.TaxExposure(ctx, p.Ledger, on, p.Rules)
				if err != nil {
					return "", err
				}
				return renderer.TaxMarkdown(r), nil
			}),
		report("lots", "Open purchase lots of every instrument, oldest first.",
			func(ctx context.Context, on folio.Date) (string, error) {
				return renderer.LotsMarkdown(folio.OpenLots(p.Ledger, on)), nil
			}),
	}
}

// NewAnalyst returns an expert commenting on the portfolio.
func NewAnalyst(p Portfolio) *Expert {
	lib := p.Functions()
	return &Expert{
		Name:        "Analyst",
		Description: "Comments on the performance, risks and tax situation of the user's portfolio.",
		ModelName:   DefaultModel,
		Config: &genai.GenerateContentConfig{
			Tools: []*genai.Tool{
				{FunctionDeclarations: NewDeclaration(lib)},
			},
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: `
			You are a personal investment analyst. You comment on the user's portfolio in a few short
			paragraphs of markdown: performance, concentration, currency exposure, dividends and the
			capital gains tax situation. Figures come from the reports only, use the tools to get
			the history, the lots or the tax exposure when it helps. Mention values that are unknown.
			Do not give buy or sell orders.
			`}}},
		},
		Library: NewLibrary(lib),
	}
}

// Comment asks the expert to comment on a snapshot.
func Comment(ctx context.Context, e *Expert, s *folio.Snapshot) (string, error) {
	question := fmt.Sprintf("Comment on my portfolio as of %s. Here is its valuation:\n\n%s", s.On, renderer.SnapshotMarkdown(s))
	content, err := e.Ask(ctx, &genai.Part{Text: question})
	if err != nil {
		return "", err
	}
	text := Text(content)
	if text == "" {
		return "", fmt.Errorf("empty commentary from expert %s", e.Name)
	}
	return text, nil
}

func parseDate(args map[string]any) (folio.Date, error) {
	v, ok := args["date"]
	if !ok {
		return folio.Today(), nil
	}
	s, ok := v.(string)
	if !ok {
		return folio.Date{}, fmt.Errorf("argument 'date' is not a string as expected but %T", v)
	}
	if s == "" {
		return folio.Today(), nil
	}
	return folio.ParseDate(s)
}
