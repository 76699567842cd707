package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/etnz/folio"
	"github.com/etnz/folio/api"
	"github.com/etnz/folio/store"
	"github.com/google/subcommands"
	"github.com/robfig/cron/v3"
)

type serveCmd struct {
	addr    string
	origins string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the reports over HTTP" }
func (*serveCmd) Usage() string {
	return `pcs serve [-addr <host:port>] [-origins <url,...>]

  Serves the snapshot, history, tax and lots reports as JSON, and stores a
  snapshot of today on the [server] refresh schedule (cron syntax).

  GET /healthz
  GET /api/snapshot?on=<date>
  GET /api/history?on=<date>
  GET /api/tax?on=<date>
  GET /api/lots?on=<date>
  GET /api/snapshots?from=<date>&to=<date>
  GET /api/snapshots/<date>
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "listen address, overrides the configuration")
	f.StringVar(&c.origins, "origins", "", "comma separated list of CORS allowed origins")
}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := loadApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if c.addr != "" {
		a.cfg.Server.Addr = c.addr
	}
	// builds the gateway once, later calls cannot fail
	if _, err := a.engine(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, a.cfg.Store.Path, a.log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	var origins []string
	if c.origins != "" {
		origins = strings.Split(c.origins, ",")
	}
	srv := api.New(a.newEngine, a.ledgerSource, api.Options{
		Portfolio: a.cfg.Portfolio,
		Rules:     a.cfg.Tax.Rules(),
		Store:     st,
		Origins:   origins,
		Logger:    a.log,
	})

	if schedule := a.cfg.Server.Refresh; schedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(schedule, func() {
			if err := a.refresh(ctx, st); err != nil {
				a.log.Error().Err(err).Msg("refresh failed")
			}
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error scheduling refresh %q: %v\n", schedule, err)
			return subcommands.ExitFailure
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		a.log.Info().Str("schedule", schedule).Msg("refresh scheduled")
	}

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error serving: %v\n", err)
			return subcommands.ExitFailure
		}
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdown); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// newEngine is the engine factory of the HTTP server, the gateway must be
// built already.
func (a *app) newEngine() *folio.Engine {
	e, err := a.engine()
	if err != nil {
		panic(err)
	}
	return e
}

func (a *app) ledgerSource(context.Context) (*folio.Ledger, error) { return a.decodeLedger() }

// refresh evaluates the portfolio today and stores the snapshot.
func (a *app) refresh(ctx context.Context, st *store.Store) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	ledger, err := a.decodeLedger()
	if err != nil {
		return err
	}
	s, err := a.newEngine().Evaluate(ctx, ledger, folio.Today())
	if err != nil {
		return err
	}
	if err := st.Put(ctx, a.cfg.Portfolio, s); err != nil {
		return err
	}
	event := a.log.Info()
	if !s.Complete {
		event = a.log.Warn().Int("diagnostics", len(s.Diagnostics))
	}
	event.Str("on", s.On.String()).Stringer("market_value", s.MarketValue).Msg("snapshot stored")
	return nil
}

