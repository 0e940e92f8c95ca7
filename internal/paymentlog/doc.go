// Package paymentlog keeps an audit trail of payment attempts.
//
// Each attempt is one row keyed by the poller's attempt id. The row is
// written when the checkout is initiated and updated with the terminal
// status. Phone numbers are masked before they are stored.
//
// Backends: PostgreSQL (pgx pool) and SQLite.
package paymentlog
