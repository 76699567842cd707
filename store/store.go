// Package store keeps computed snapshots in a SQLite database, one per
// portfolio and date. Snapshots are derived data: storing one again for the
// same day replaces it.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/etnz/folio"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when no snapshot is stored for a date.
var ErrNotFound = errors.New("snapshot not found")

// Store is a snapshot repository.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates its schema.
// Use ":memory:" for a throw away database.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection: an in-memory database lives in its connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db, log: log.With().Str("component", "store").Logger(), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, r := range results {
		s.log.Info().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("applied")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Put stores the snapshot of a portfolio, replacing the one of the same date.
func (s *Store) Put(ctx context.Context, portfolio string, snap *folio.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshot (portfolio, on_date, base, market_value, complete, payload, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (portfolio, on_date) DO UPDATE SET
			base = excluded.base,
			market_value = excluded.market_value,
			complete = excluded.complete,
			payload = excluded.payload,
			computed_at = excluded.computed_at`,
		portfolio,
		snap.On.String(),
		snap.Base,
		snap.MarketValue.Amount().String(),
		snap.Complete,
		string(payload),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot %s/%s: %w", portfolio, snap.On, err)
	}
	s.log.Debug().Str("portfolio", portfolio).Str("on", snap.On.String()).Msg("snapshot stored")
	return nil
}

// Get returns the stored snapshot of a portfolio at a date.
func (s *Store) Get(ctx context.Context, portfolio string, on folio.Date) (*folio.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshot WHERE portfolio = ? AND on_date = ?`,
		portfolio, on.String(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotFound, portfolio, on)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	snap := new(folio.Snapshot)
	if err := json.Unmarshal([]byte(payload), snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s/%s: %w", portfolio, on, err)
	}
	return snap, nil
}

// Entry summarizes a stored snapshot.
type Entry struct {
	On          folio.Date  `json:"on"`
	MarketValue folio.Money `json:"marketValue"`
	Complete    bool        `json:"complete"`
	ComputedAt  time.Time   `json:"computedAt"`
}

// List returns the snapshots of a portfolio between from and to (inclusive),
// oldest first.
func (s *Store) List(ctx context.Context, portfolio string, from, to folio.Date) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT on_date, base, market_value, complete, computed_at
		FROM snapshot
		WHERE portfolio = ? AND on_date >= ? AND on_date <= ?
		ORDER BY on_date ASC`,
		portfolio, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var on, base, value, computed string
		var e Entry
		if err := rows.Scan(&on, &base, &value, &e.Complete, &computed); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if e.On, err = folio.ParseDate(on); err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse market value: %w", err)
		}
		e.MarketValue = folio.M(amount, base)
		if e.ComputedAt, err = time.Parse(time.RFC3339Nano, computed); err != nil {
			return nil, fmt.Errorf("failed to parse computed_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return entries, nil
}
