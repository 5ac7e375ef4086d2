// Package storage is the persistence layer behind the dispatch subsystem.
//
// It exposes the order, product, account and recipient stores plus an
// append-only audit log. Two drivers implement the same Store interface:
//   - "sqlite": a local database file (pure Go driver, WAL mode)
//   - "postgres": a shared database reached through a pgx connection pool
package storage
