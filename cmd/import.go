package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/etnz/folio"
	"github.com/etnz/folio/renderer"
	"github.com/google/subcommands"
)

type importCmd struct {
	format string
	dryRun bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import broker CSV exports into the ledger" }
func (*importCmd) Usage() string {
	return `pcs import [-format <name>] [-n] <file.csv>...

  Normalizes the rows of broker CSV exports into transactions and appends
  the new ones to the ledger. Rows already imported are recognized by their
  reference and skipped, so importing the same file twice is harmless.
  Rejected rows are listed with their line number. Use "-" to read stdin.

  Formats: broker-transactions, broker-account, manual, generic. The format
  is detected from the header when -format is not set.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.format, "format", "", "format of the CSV files, detected when empty")
	f.BoolVar(&c.dryRun, "n", false, "print the import report without changing the ledger")
}

func (c *importCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one file to import is required.")
		return subcommands.ExitUsageError
	}

	a, err := loadApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	ledger, err := a.decodeLedger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading ledger: %v\n", err)
		return subcommands.ExitFailure
	}

	added := 0
	for _, path := range f.Args() {
		report, err := c.importFile(a, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing %q: %v\n", path, err)
			return subcommands.ExitFailure
		}
		printMarkdown(renderer.ImportMarkdown(report))
		for _, tx := range report.Transactions {
			if ledger.Contains(tx.Ref) {
				continue
			}
			ledger.Append(tx)
			added++
		}
	}

	if c.dryRun {
		fmt.Fprintf(os.Stderr, "%d new transactions, ledger left unchanged\n", added)
		return subcommands.ExitSuccess
	}
	if err := a.encodeLedger(ledger); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing ledger %q: %v\n", a.cfg.Ledger, err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(os.Stderr, "Successfully appended %d transactions to %s\n", added, a.cfg.Ledger)
	return subcommands.ExitSuccess
}

func (c *importCmd) importFile(a *app, path string) (*folio.ImportReport, error) {
	var r io.Reader = os.Stdin
	source := "stdin"
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r, source = f, filepath.Base(path)
	}
	return folio.Import(r, folio.ImportOptions{
		Base:   a.cfg.BaseCurrency,
		Source: source,
		Format: c.format,
		Logger: a.log,
	})
}
