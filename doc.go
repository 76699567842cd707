// Package folio evaluates an investment portfolio from its ledger of trades.
//
// The ledger is the single source of truth: every report is recomputed from
// it and from market data, never edited.
//   - Import normalizes broker CSV exports into Transactions.
//   - Aggregate and MatchLots replay the history of one instrument, FIFO
//     lots matching the sales to the purchases they close.
//   - An Engine values a Ledger on a date (Evaluate), month by month
//     (History), and computes the yearly capital gains tax exposure
//     (TaxExposure). Market data comes from a Gateway, through a Market that
//     memoizes, retries and falls back to earlier days.
//
// Values that cannot be computed are reported as Diagnostics next to the
// result instead of failing the evaluation.
package folio
