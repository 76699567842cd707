package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/folio"
	"github.com/etnz/folio/renderer"
	"github.com/google/subcommands"
)

type taxCmd struct {
	date string
}

func (*taxCmd) Name() string     { return "tax" }
func (*taxCmd) Synopsis() string { return "display the yearly capital gains tax exposure" }
func (*taxCmd) Usage() string {
	return `pcs tax [-d <date>]

  Displays, for every year with sales, the taxable and exempt proceeds and
  gains, and whether the taxable proceeds stay under the annual limit. The
  holding period and the limit come from the [tax] configuration.
`
}

func (c *taxCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", folio.Today().String(), "Last date of the sales taken into account.")
}

func (c *taxCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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

	report, err := engine.TaxExposure(ctx, ledger, on, a.cfg.Tax.Rules())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing tax exposure: %v\n", err)
		return subcommands.ExitFailure
	}
	printMarkdown(renderer.TaxMarkdown(report))
	return subcommands.ExitSuccess
}
