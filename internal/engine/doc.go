// Package engine applies and rolls back changesets against a target store.
//
// The engine owns the per-changeset state machine:
//
//	pending -> executing -> applied
//	pending -> executing -> failed
//	pending -> skipped         (already applied, or filtered out)
//	pending -> not_attempted   (run halted or was cancelled first)
//	applied -> executing -> rolled_back   (rollback)
//
// It never inspects operation bodies. The target store is reached through
// Adapter and the applied-set through Ledger; both are interfaces so tests
// can substitute in-memory fakes.
//
// Ordering rules:
//   - Apply runs changesets strictly in changelog order, one at a time.
//   - The ledger entry is written only after the forward operation succeeded.
//   - Rollback runs in strict reverse apply order (ledger order_executed)
//     and removes each entry right after its inverse succeeded.
//   - Cancellation is honoured between changesets only; an operation that
//     started is allowed to finish and be recorded.
//
// Every run holds the ledger lease for its whole duration and ends with a
// RunSummary, including failed runs. Errors are returned as *RunError so
// the summary travels with the cause.
package engine
