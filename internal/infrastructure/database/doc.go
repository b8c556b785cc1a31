// Package database provides the SQLite connection used by the telemetry
// history store.
//
// It wraps database/sql with lifecycle management (directory creation, WAL
// mode, busy timeout, restrictive file permissions), embedded schema
// migrations, and a health check. The connection pool is pinned to a single
// connection to match SQLite's single-writer model.
//
// The registry itself is not stored here: the registry persists through flat
// snapshot tables (see internal/snapshot). SQLite holds only the append-only
// temperature history.
package database
