// Package history stores periodic aggregate snapshots per monitored asset.
//
// Drivers:
//   - "file": a single JSON document rewritten atomically on every write
//   - "sqlite": SQLite database via modernc.org/sqlite (pure Go)
//   - "memory": process-local, lost on restart
//
// Every write prunes entries older than the retention window.
package history
