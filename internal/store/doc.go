// Package store persists the catalog and completed sales in SQLite.
//
// The schema is built from embedded, numbered migrations applied inside one
// transaction at Open. Product and sale identifiers are random UUIDs.
package store
