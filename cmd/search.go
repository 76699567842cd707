package cmd

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/etnz/folio/eodhd"
	"github.com/google/subcommands"
	md "github.com/nao1215/markdown"
)

// searchCmd implements the "search" command.
type searchCmd struct{}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "searches for instruments on EODHD" }
func (*searchCmd) Usage() string {
	return `pcs search <search term>

  Searches for instruments by name, ticker or ISIN via the EOD Historical
  Data API and prints the ticker and ISIN of the results.

  Requires the EODHD_API_KEY environment variable or providers.eodhd_key.
`
}

func (*searchCmd) SetFlags(f *flag.FlagSet) {}

func (*searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: a search term is required.")
		return subcommands.ExitUsageError
	}
	term := strings.Join(f.Args(), " ")

	a, err := loadApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	key := a.cfg.Providers.EODHDKey
	if key == "" {
		fmt.Fprintf(os.Stderr, "Error: EODHD API key is not set. Use EODHD_API_KEY environment variable\n")
		return subcommands.ExitFailure
	}

	client := eodhd.New(key, eodhd.WithLogger(a.log), eodhd.WithTimeout(a.cfg.Providers.Timeout.Duration))
	results, err := client.Search(ctx, term)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error searching instruments: %v\n", err)
		return subcommands.ExitFailure
	}
	printMarkdown(searchMarkdown(term, results))
	return subcommands.ExitSuccess
}

func searchMarkdown(term string, results []eodhd.SearchResult) string {
	doc := md.NewMarkdown(new(bytes.Buffer)).H1(fmt.Sprintf("Search %q", term))
	if len(results) == 0 {
		return doc.PlainText("No results.").String()
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		prev := ""
		if r.PreviousClose != 0 {
			prev = fmt.Sprintf("%.2f %s on %s", r.PreviousClose, r.Currency, r.PreviousCloseDate)
		}
		rows = append(rows, []string{r.Ticker(), r.ISIN, r.Name, r.Type, r.Country, prev})
	}
	doc.Table(md.TableSet{
		Header: []string{"Ticker", "ISIN", "Name", "Type", "Country", "Previous close"},
		Rows:   rows,
	})
	return doc.String()
}
