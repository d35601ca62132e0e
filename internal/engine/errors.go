package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/changeling/internal/ir"
)

// ErrNoRollbackTarget is returned when a rollback names neither a target
// changeset nor a count.
var ErrNoRollbackTarget = errors.New("rollback needs a target changeset (--to) or a count (--count)")

// RunError carries the summary of a run that did not fully succeed.
//
// Every engine error is wrapped in a RunError so callers always know which
// changesets were applied, failed or left untouched. errors.As and
// errors.Is see through it to the cause.
type RunError struct {
	Summary *ir.RunSummary
	Err     error
}

func (e *RunError) Error() string {
	if e.Summary == nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Summary.Command, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// StoreError reports that the target store rejected an operation.
// Halts apply unless continue-on-failure is set; always halts rollback.
type StoreError struct {
	ID  ir.ChangesetID
	Op  string // "forward" or "rollback"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("changeset %s: %s operation failed: %v", e.ID, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// LedgerDesyncError reports that the target store changed but the ledger
// write describing that change failed. The target and ledger now disagree
// about one changeset and an operator must reconcile them by hand. Always
// fatal; the engine never retries the store operation.
type LedgerDesyncError struct {
	ID  ir.ChangesetID
	Op  string // ledger operation: "record", "replace" or "remove"
	Err error
}

func (e *LedgerDesyncError) Error() string {
	return fmt.Sprintf("ledger out of sync for %s: target changed but ledger %s failed (manual reconciliation required): %v",
		e.ID, e.Op, e.Err)
}

func (e *LedgerDesyncError) Unwrap() error {
	return e.Err
}

// ChecksumMismatch describes one applied changeset whose text changed.
type ChecksumMismatch struct {
	ID       ir.ChangesetID `json:"id"`
	Recorded string         `json:"recorded"` // checksum in the ledger
	Current  string         `json:"current"`  // checksum of the changelog text
}

// ChecksumMismatchError reports applied changesets edited after apply.
// Detected before any mutation; fatal unless the run is forced.
type ChecksumMismatchError struct {
	Mismatches []ChecksumMismatch
}

func (e *ChecksumMismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = fmt.Sprintf("%s (ledger %s, changelog %s)", m.ID, shortSum(m.Recorded), shortSum(m.Current))
	}
	return fmt.Sprintf("checksum mismatch for %d applied changeset(s): %s",
		len(e.Mismatches), strings.Join(parts, ", "))
}

// NoRollbackDefinedError reports a rollback range containing changesets
// that cannot be reversed: they declare no inverse, or they are no longer
// in the changelog. The ledger is left unchanged.
type NoRollbackDefinedError struct {
	Missing []ir.ChangesetID // in the changelog but without an inverse
	Unknown []ir.ChangesetID // applied but absent from the changelog
}

func (e *NoRollbackDefinedError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "no rollback defined for "+joinIDs(e.Missing))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "not in changelog: "+joinIDs(e.Unknown))
	}
	return "cannot roll back: " + strings.Join(parts, "; ")
}

// UnknownChangesetError reports a target identity (--to) that the run
// cannot use.
type UnknownChangesetError struct {
	ID     ir.ChangesetID
	Reason string // e.g. "not in changelog", "not applied"
}

func (e *UnknownChangesetError) Error() string {
	return fmt.Sprintf("changeset %s: %s", e.ID, e.Reason)
}

// IsStoreError returns true if err is or wraps a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsLedgerDesync returns true if err is or wraps a *LedgerDesyncError.
func IsLedgerDesync(err error) bool {
	var de *LedgerDesyncError
	return errors.As(err, &de)
}

// IsChecksumMismatch returns true if err is or wraps a *ChecksumMismatchError.
func IsChecksumMismatch(err error) bool {
	var ce *ChecksumMismatchError
	return errors.As(err, &ce)
}

// IsNoRollbackDefined returns true if err is or wraps a *NoRollbackDefinedError.
func IsNoRollbackDefined(err error) bool {
	var ne *NoRollbackDefinedError
	return errors.As(err, &ne)
}

// IsUnknownChangeset returns true if err is or wraps an *UnknownChangesetError.
func IsUnknownChangeset(err error) bool {
	var ue *UnknownChangesetError
	return errors.As(err, &ue)
}

func joinIDs(ids []ir.ChangesetID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
