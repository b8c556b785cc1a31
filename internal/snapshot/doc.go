// Package snapshot persists the registry as three flat tables (users,
// domains, devices) and drives the periodic background snapshot.
//
// Snapshots are whole-file rewrites, not incremental: each table is written
// to a temp file and atomically renamed into place, so readers and a restart
// after a crash always see either the previous or the new complete table.
//
// Loading runs in dependency order (users first, since domains and devices
// reference them) and treats a missing table as empty. Device online flags
// are intentionally not persisted as "online": the registry resets them on
// restore because no connection survives a restart.
package snapshot
