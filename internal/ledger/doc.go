// Package ledger provides the SQLite-backed applied-set ledger.
//
// The ledger records which changesets have been applied, with the checksum
// each had at apply time, and is the single source of truth for computing
// the pending set. It holds three tables:
//   - changelog_ledger: one row per applied changeset
//   - changelog_lock: a single-row advisory lease for the single-writer rule
//   - changelog_runs: one row per apply/rollback run (history)
//
// # Ordering
//
// Entries carry order_executed, a monotonic apply counter assigned by the
// ledger at insert time. ListApplied always returns ORDER BY order_executed,
// so rollback can walk strict reverse apply order without trusting
// wall-clock timestamps.
//
// # Durability
//
// Every write is a single statement or a single transaction and is durable
// on return. Write failures surface as *WriteError; callers must treat the
// ledger as authoritative and never guess.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for SQLite locks up to 5 seconds
package ledger
