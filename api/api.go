// Package api serves the folio reports over HTTP as JSON.
package api

import (
	"context"
	"net/http"

	"github.com/etnz/folio"
	"github.com/etnz/folio/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LedgerSource loads the current ledger. It is called on every request so
// that edits of the ledger are served without a restart.
type LedgerSource func(ctx context.Context) (*folio.Ledger, error)

// Options configures a Server.
type Options struct {
	Portfolio string // name of the stored snapshots
	Rules     folio.TaxRules
	Store     *store.Store // stored snapshots, optional
	Origins   []string     // CORS allowed origins, none when empty
	Logger    zerolog.Logger
}

// Server answers the report requests of one portfolio.
type Server struct {
	engine func() *folio.Engine
	ledger LedgerSource
	opts   Options
	log    zerolog.Logger
}

// New creates a Server. newEngine is called once per request: each request
// is its own evaluation scope.
func New(newEngine func() *folio.Engine, ledger LedgerSource, opts Options) *Server {
	return &Server{
		engine: newEngine,
		ledger: ledger,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the router of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	if len(s.opts.Origins) > 0 {
		r.Use(newCORS(s.opts.Origins).Handler)
	}

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.snapshot)
		r.Get("/history", s.history)
		r.Get("/tax", s.tax)
		r.Get("/lots", s.lots)
		r.Get("/snapshots", s.storedList)
		r.Get("/snapshots/{date}", s.stored)
	})
	return r
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Store: "disabled"}
	if s.opts.Store != nil {
		resp.Store = "connected"
		if err := s.opts.Store.Ping(r.Context()); err != nil {
			resp = HealthResponse{Status: "unhealthy", Store: "disconnected", Error: err.Error()}
			RespondJSON(w, r, http.StatusServiceUnavailable, resp)
			return
		}
	}
	RespondJSON(w, r, http.StatusOK, resp)
}

// dateParam reads a date query parameter, today when absent.
func dateParam(r *http.Request, name string, def folio.Date) (folio.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return folio.ParseDate(v)
}

// report runs one report on the ledger at the 'on' query parameter.
func (s *Server) report(w http.ResponseWriter, r *http.Request, run func(context.Context, *folio.Engine, *folio.Ledger, folio.Date) (any, error)) {
	on, err := dateParam(r, "on", folio.Today())
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid date", err)
		return
	}
	l, err := s.ledger(r.Context())
	if err != nil {
		RespondError(w, r, statusOf(err), "cannot load ledger", err)
		return
	}
	out, err := run(r.Context(), s.engine(), l, on)
	if err != nil {
		RespondError(w, r, statusOf(err), "cannot compute report", err)
		return
	}
	RespondJSON(w, r, http.StatusOK, out)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	s.report(w, r, func(ctx context.Context, e *folio.Engine, l *folio.Ledger, on folio.Date) (any, error) {
		return e.Evaluate(ctx, l, on)
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	s.report(w, r, func(ctx context.Context, e *folio.Engine, l *folio.Ledger, on folio.Date) (any, error) {
		return e.History(ctx, l, on)
	})
}

func (s *Server) tax(w http.ResponseWriter, r *http.Request) {
	s.report(w, r, func(ctx context.Context, e *folio.Engine, l *folio.Ledger, on folio.Date) (any, error) {
		return e.TaxExposure(ctx, l, on, s.opts.Rules)
	})
}

func (s *Server) lots(w http.ResponseWriter, r *http.Request) {
	s.report(w, r, func(ctx context.Context, e *folio.Engine, l *folio.Ledger, on folio.Date) (any, error) {
		return folio.OpenLots(l, on), nil
	})
}

func (s *Server) storedList(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		RespondError(w, r, http.StatusNotFound, "no snapshot store", nil)
		return
	}
	to, err := dateParam(r, "to", folio.Today())
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid date", err)
		return
	}
	from, err := dateParam(r, "from", to.AddMonth(-1))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid date", err)
		return
	}
	entries, err := s.opts.Store.List(r.Context(), s.opts.Portfolio, from, to)
	if err != nil {
		RespondError(w, r, statusOf(err), "cannot list snapshots", err)
		return
	}
	RespondJSON(w, r, http.StatusOK, entries)
}

func (s *Server) stored(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		RespondError(w, r, http.StatusNotFound, "no snapshot store", nil)
		return
	}
	on, err := folio.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "invalid date", err)
		return
	}
	snap, err := s.opts.Store.Get(r.Context(), s.opts.Portfolio, on)
	if err != nil {
		RespondError(w, r, statusOf(err), "cannot read snapshot", err)
		return
	}
	RespondJSON(w, r, http.StatusOK, snap)
}
