package engine

import (
	"context"
	"fmt"

	"github.com/roach88/changeling/internal/ir"
)

// RollbackOptions selects what a rollback reverses. Exactly one of To and
// Count should be set; To wins when both are.
type RollbackOptions struct {
	// To rolls back every changeset applied after this one, and this one.
	To ir.ChangesetID

	// Count rolls back the last Count applied changesets. A count larger
	// than the applied-set rolls back everything.
	Count int

	// Force skips the checksum preflight for the range.
	Force bool

	// DryRun validates and plans the rollback without executing inverses.
	DryRun bool
}

// Rollback reverses applied changesets in strict reverse apply order.
//
// Preflight checks the whole range before anything runs: every changeset
// must still be in the changelog, unchanged (unless forced), and declare
// an inverse. Each successful inverse is immediately followed by removal
// of its ledger entry, so after a failure the ledger matches exactly what
// was reversed.
//
// The returned summary is never nil. A non-nil error is always a *RunError.
func (e *Engine) Rollback(ctx context.Context, changesets []ir.Changeset, opts RollbackOptions) (*ir.RunSummary, error) {
	r := e.startRun("rollback", opts.DryRun)

	if opts.To.IsZero() && opts.Count <= 0 {
		return e.finish(ctx, r, ErrNoRollbackTarget)
	}

	if err := e.acquire(ctx, r); err != nil {
		return e.finish(ctx, r, err)
	}

	applied, err := e.ledger.ListApplied(ctx)
	if err != nil {
		return e.finish(ctx, r, fmt.Errorf("load applied set: %w", err))
	}

	targets, err := rollbackRange(applied, changesets, opts)
	if err != nil {
		return e.finish(ctx, r, err)
	}

	byID := make(map[ir.ChangesetID]ir.Changeset, len(changesets))
	for _, cs := range changesets {
		byID[cs.ID] = cs
	}

	steps := make([]step, len(targets))
	var noRollback NoRollbackDefinedError
	var mismatches []ChecksumMismatch
	for i, entry := range targets {
		cs, ok := byID[entry.ID]
		steps[i] = step{cs: cs, result: ir.ChangesetResult{ID: entry.ID, State: ir.StatePending}}
		switch {
		case !ok:
			noRollback.Unknown = append(noRollback.Unknown, entry.ID)
		case !cs.HasRollback():
			noRollback.Missing = append(noRollback.Missing, entry.ID)
		case cs.Checksum != entry.Checksum && !opts.Force:
			mismatches = append(mismatches, ChecksumMismatch{ID: entry.ID, Recorded: entry.Checksum, Current: cs.Checksum})
		}
	}

	var preflight error
	switch {
	case len(noRollback.Missing)+len(noRollback.Unknown) > 0:
		preflight = &noRollback
	case len(mismatches) > 0:
		preflight = &ChecksumMismatchError{Mismatches: mismatches}
	}
	if preflight != nil {
		for i := range steps {
			notAttempted(&steps[i], "rollback preflight failed")
		}
		r.summary.Results = collectResults(steps)
		return e.finish(ctx, r, preflight)
	}

	var cause error
	haltReason := ""
	for i := range steps {
		st := &steps[i]
		if haltReason != "" {
			notAttempted(st, haltReason)
			continue
		}
		if err := ctx.Err(); err != nil {
			cause, haltReason = err, "run cancelled"
			notAttempted(st, haltReason)
			continue
		}
		if opts.DryRun {
			continue
		}
		if err := e.renew(ctx, r); err != nil {
			cause, haltReason = err, "ledger lock lost"
			notAttempted(st, haltReason)
			continue
		}

		if err := e.rollbackOne(ctx, st); err != nil {
			cause, haltReason = err, "halted after "+st.cs.ID.String()+" failed"
		}
	}
	r.summary.Results = collectResults(steps)
	return e.finish(ctx, r, cause)
}

// rollbackOne executes one inverse and removes the ledger entry.
func (e *Engine) rollbackOne(ctx context.Context, st *step) error {
	id := st.cs.ID
	opCtx := context.WithoutCancel(ctx)

	st.result.State = ir.StateExecuting
	e.logger.Debug("changeset rolling back", "changeset", id)

	start := e.now()
	err := e.adapter.Execute(opCtx, *st.cs.Rollback)
	st.result.Duration = e.now().Sub(start)
	if err != nil {
		st.result.State = ir.StateFailed
		st.result.Error = err.Error()
		e.logger.Warn("rollback failed", "changeset", id, "error", err)
		return &StoreError{ID: id, Op: "rollback", Err: err}
	}

	if err := e.ledger.Remove(opCtx, id); err != nil {
		derr := &LedgerDesyncError{ID: id, Op: "remove", Err: err}
		st.result.State = ir.StateFailed
		st.result.Error = derr.Error()
		e.logger.Error("ledger out of sync", "changeset", id, "error", err)
		return derr
	}

	st.result.State = ir.StateRolledBack
	e.logger.Info("changeset rolled back", "changeset", id, "duration", st.result.Duration)
	return nil
}

// rollbackRange returns the entries to reverse, newest first.
func rollbackRange(applied []ir.LedgerEntry, changesets []ir.Changeset, opts RollbackOptions) ([]ir.LedgerEntry, error) {
	start := -1
	if !opts.To.IsZero() {
		for i, entry := range applied {
			if entry.ID == opts.To {
				start = i
				break
			}
		}
		if start < 0 {
			reason := "not applied"
			if !inChangelog(changesets, opts.To) {
				reason = "not in changelog and not applied"
			}
			return nil, &UnknownChangesetError{ID: opts.To, Reason: reason}
		}
	} else {
		start = len(applied) - opts.Count
		if start < 0 {
			start = 0
		}
	}

	out := make([]ir.LedgerEntry, 0, len(applied)-start)
	for i := len(applied) - 1; i >= start; i-- {
		out = append(out, applied[i])
	}
	return out, nil
}

func inChangelog(changesets []ir.Changeset, id ir.ChangesetID) bool {
	for _, cs := range changesets {
		if cs.ID == id {
			return true
		}
	}
	return false
}
