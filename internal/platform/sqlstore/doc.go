// Package sqlstore provides SQL-backed implementations of the store.KV
// contract and of a durable message queue. The same code runs against
// PostgreSQL (through the pgx stdlib driver) and SQLite (through the pure Go
// modernc driver); only a handful of statements differ per dialect.
//
// Schemas are versioned with goose and embedded in the binary.
package sqlstore
