package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/folio"
	"github.com/etnz/folio/agent"
	"github.com/google/subcommands"
	"google.golang.org/genai"
)

type commentCmd struct {
	date  string
	model string
}

func (*commentCmd) Name() string     { return "comment" }
func (*commentCmd) Synopsis() string { return "ask an AI analyst to comment on the portfolio" }
func (*commentCmd) Usage() string {
	return `pcs comment [-d <date>] [-model <name>]

  Evaluates the portfolio and asks a Gemini model for a short commentary on
  its performance, risks and tax situation. The model can ask for the
  history, the lots and the tax reports.

  Requires the GEMINI_API_KEY environment variable or providers.gemini_key.
`
}

func (c *commentCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", folio.Today().String(), "Date of the snapshot to comment.")
	f.StringVar(&c.model, "model", agent.DefaultModel, "Gemini model")
}

func (c *commentCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	on, err := folio.ParseDate(c.date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing date: %v\n", err)
		return subcommands.ExitUsageError
	}

	a, ledger, engine, err := evaluation()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if a.cfg.Providers.GeminiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: Gemini API key is not set. Use GEMINI_API_KEY environment variable")
		return subcommands.ExitFailure
	}

	snapshot, err := engine.Evaluate(ctx, ledger, on)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error evaluating portfolio: %v\n", err)
		return subcommands.ExitFailure
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.cfg.Providers.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating Gemini client: %v\n", err)
		return subcommands.ExitFailure
	}

	analyst := agent.NewAnalyst(agent.Portfolio{Engine: engine, Ledger: ledger, Rules: a.cfg.Tax.Rules()})
	analyst.ModelName = c.model
	analyst.Logger = a.log
	if err := analyst.Start(ctx, client); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	text, err := agent.Comment(ctx, analyst, snapshot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting commentary: %v\n", err)
		return subcommands.ExitFailure
	}
	printMarkdown(text)
	return subcommands.ExitSuccess
}
