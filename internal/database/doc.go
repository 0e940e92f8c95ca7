// Package database opens the stores used for the payment audit log.
//
//   - PostgreSQL through a pgx connection pool, for shared deployments
//   - SQLite (pure Go driver) for a single local client
package database
