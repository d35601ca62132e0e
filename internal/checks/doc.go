// Package checks implements changelog policy checks.
//
// Checks are static: they look at parsed changesets only and never touch
// the ledger or the target. Each check has a stable id (used to disable it)
// and a severity; error findings fail `changeling validate`.
package checks
