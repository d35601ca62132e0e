package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/changeling/internal/ir"
)

// ApplyOptions controls one apply run.
type ApplyOptions struct {
	// To stops the run after this changeset (inclusive). Zero applies all.
	To ir.ChangesetID

	// Force re-executes applied changesets whose checksum changed and
	// replaces their ledger entries instead of failing the preflight.
	Force bool

	// ContinueOnFailure keeps going after a failed changeset. Ledger
	// desync still halts the run.
	ContinueOnFailure bool

	// Labels restricts the run to changesets carrying any of these labels.
	// Empty means labels are not consulted.
	Labels []string

	// Context restricts the run to changesets whose contexts are empty or
	// include this value. Empty means contexts are not consulted.
	Context string

	// DryRun plans the run without touching the target or the applied-set.
	// Pending changesets stay in the pending state in the summary.
	DryRun bool
}

// step is one changeset moving through the state machine.
type step struct {
	cs      ir.Changeset
	result  ir.ChangesetResult
	replace bool // forced re-apply: Replace instead of Record
}

// Apply brings the target up to date with changesets, which must be in
// changelog order.
//
// The returned summary is never nil. A non-nil error is always a *RunError.
func (e *Engine) Apply(ctx context.Context, changesets []ir.Changeset, opts ApplyOptions) (*ir.RunSummary, error) {
	r := e.startRun("apply", opts.DryRun)

	// Runs that stop before planning still report what they would have
	// covered, so callers never see an empty result list for a failed run.
	selected, err := selectThrough(changesets, opts.To)
	if err != nil {
		r.summary.Results = unplanned(changesets, "unknown --to target")
		return e.finish(ctx, r, err)
	}

	if err := e.acquire(ctx, r); err != nil {
		r.summary.Results = unplanned(selected, "ledger lock not acquired")
		return e.finish(ctx, r, err)
	}

	applied, err := e.ledger.ListApplied(ctx)
	if err != nil {
		r.summary.Results = unplanned(selected, "applied-set unreadable")
		return e.finish(ctx, r, fmt.Errorf("load applied set: %w", err))
	}
	recorded := indexEntries(applied)
	steps := planApply(selected, recorded, opts)

	// Preflight covers the whole changelog, not just the selected prefix:
	// an edited applied changeset anywhere means the ledger cannot be trusted.
	if mismatches := findMismatches(changesets, recorded); len(mismatches) > 0 {
		if !opts.Force {
			for i := range steps {
				if steps[i].result.State == ir.StatePending {
					notAttempted(&steps[i], "checksum preflight failed")
				}
			}
			r.summary.Results = collectResults(steps)
			return e.finish(ctx, r, &ChecksumMismatchError{Mismatches: mismatches})
		}
		for _, m := range mismatches {
			e.logger.Warn("checksum mismatch forced", "changeset", m.ID, "recorded", m.Recorded, "current", m.Current)
		}
	}

	var failures []error
	var cause error
	haltReason := ""
	for i := range steps {
		st := &steps[i]
		if st.result.State != ir.StatePending {
			continue
		}
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

		err := e.applyOne(ctx, r, st)
		switch {
		case err == nil:
		case IsLedgerDesync(err):
			cause, haltReason = err, "halted: ledger out of sync at "+st.cs.ID.String()
		default:
			failures = append(failures, err)
			if !opts.ContinueOnFailure {
				haltReason = "halted after " + st.cs.ID.String() + " failed"
			}
		}
	}
	r.summary.Results = collectResults(steps)

	if cause == nil {
		cause = failureCause(failures)
	} else if len(failures) > 0 {
		cause = errors.Join(append([]error{cause}, failures...)...)
	}
	return e.finish(ctx, r, cause)
}

// applyOne executes one forward operation and records it.
//
// The operation and its ledger write run without the caller's
// cancellation: once a changeset starts it is carried through.
func (e *Engine) applyOne(ctx context.Context, r *run, st *step) error {
	id := st.cs.ID
	opCtx := context.WithoutCancel(ctx)

	st.result.State = ir.StateExecuting
	e.logger.Debug("changeset executing", "changeset", id, "source", st.cs.Source.String())

	start := e.now()
	err := e.adapter.Execute(opCtx, st.cs.Forward)
	st.result.Duration = e.now().Sub(start)
	if err != nil {
		serr := &StoreError{ID: id, Op: "forward", Err: err}
		st.result.State = ir.StateFailed
		st.result.Error = err.Error()
		e.logger.Warn("changeset failed", "changeset", id, "error", err)
		return serr
	}

	entry := ir.LedgerEntry{
		ID:           id,
		Checksum:     st.cs.Checksum,
		AppliedAt:    e.now().UTC(),
		Context:      st.cs.Context,
		Labels:       st.cs.Labels,
		DeploymentID: r.owner,
	}
	write, op := e.ledger.Record, "record"
	if st.replace {
		write, op = e.ledger.Replace, "replace"
	}
	if err := write(opCtx, entry); err != nil {
		derr := &LedgerDesyncError{ID: id, Op: op, Err: err}
		st.result.State = ir.StateFailed
		st.result.Error = derr.Error()
		e.logger.Error("ledger out of sync", "changeset", id, "error", err)
		return derr
	}

	st.result.State = ir.StateApplied
	e.logger.Info("changeset applied", "changeset", id, "duration", st.result.Duration, "forced", st.replace)
	return nil
}

// planApply assigns every selected changeset its starting state.
func planApply(selected []ir.Changeset, recorded map[ir.ChangesetID]ir.LedgerEntry, opts ApplyOptions) []step {
	steps := make([]step, len(selected))
	for i, cs := range selected {
		st := step{cs: cs, result: ir.ChangesetResult{ID: cs.ID, State: ir.StatePending}}

		entry, isApplied := recorded[cs.ID]
		switch {
		case len(opts.Labels) > 0 && !cs.HasLabel(opts.Labels...):
			skip(&st, "filtered by labels")
		case !cs.Context.Matches(opts.Context):
			skip(&st, "filtered by context")
		case isApplied && entry.Checksum == cs.Checksum:
			skip(&st, "already applied")
		case isApplied:
			st.replace = true
		}
		steps[i] = st
	}
	return steps
}

func selectThrough(changesets []ir.Changeset, to ir.ChangesetID) ([]ir.Changeset, error) {
	if to.IsZero() {
		return changesets, nil
	}
	for i, cs := range changesets {
		if cs.ID == to {
			return changesets[:i+1], nil
		}
	}
	return nil, &UnknownChangesetError{ID: to, Reason: "not in changelog"}
}

func findMismatches(changesets []ir.Changeset, recorded map[ir.ChangesetID]ir.LedgerEntry) []ChecksumMismatch {
	var out []ChecksumMismatch
	for _, cs := range changesets {
		entry, ok := recorded[cs.ID]
		if ok && entry.Checksum != cs.Checksum {
			out = append(out, ChecksumMismatch{ID: cs.ID, Recorded: entry.Checksum, Current: cs.Checksum})
		}
	}
	return out
}

func indexEntries(entries []ir.LedgerEntry) map[ir.ChangesetID]ir.LedgerEntry {
	m := make(map[ir.ChangesetID]ir.LedgerEntry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	return m
}

func skip(st *step, reason string) {
	st.result.State = ir.StateSkipped
	st.result.Reason = reason
}

func notAttempted(st *step, reason string) {
	st.result.State = ir.StateNotAttempted
	st.result.Reason = reason
}

// unplanned reports every changeset as not attempted for reason.
func unplanned(changesets []ir.Changeset, reason string) []ir.ChangesetResult {
	out := make([]ir.ChangesetResult, len(changesets))
	for i, cs := range changesets {
		out[i] = ir.ChangesetResult{ID: cs.ID, State: ir.StateNotAttempted, Reason: reason}
	}
	return out
}

func collectResults(steps []step) []ir.ChangesetResult {
	out := make([]ir.ChangesetResult, len(steps))
	for i, st := range steps {
		out[i] = st.result
	}
	return out
}
