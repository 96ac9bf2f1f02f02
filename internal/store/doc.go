// Package store provides durable storage for installed update packages.
//
// Layout under the store root:
//
//	packages.db        SQLite: package metadata + current/previous pointers
//	packages/<hash>/   package contents (bundle and assets)
//	staging/<uuid>/    installs in flight
//
// # Crash atomicity
//
// Package trees are written to staging, fsynced, and renamed into
// packages/ before any metadata row references them. Pointer changes
// (promote, rollback, purge) happen inside one SQLite transaction, and
// package directories are only deleted after the transaction that stopped
// referencing them has committed. A process kill at any point therefore
// leaves the "current" pointer on either the old or the new package, never
// on a directory that does not exist. Leftovers are swept at Open.
//
// # Invariants
//
//   - Metadata rows are immutable: an UPDATE trigger aborts any change.
//   - After every promote at most two packages remain: current and previous.
//
// # Database Configuration
//
//   - WAL mode
//   - synchronous=FULL: a commit is durable before the call returns
//   - busy_timeout=5000
//   - foreign_keys=ON: pointers must reference an existing package row
package store
