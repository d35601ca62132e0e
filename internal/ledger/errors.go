package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/changeling/internal/ir"
)

// ErrLeaseLost is returned by RenewLock when the caller no longer holds
// the lease (it expired and was taken, or was force-released).
var ErrLeaseLost = errors.New("ledger lease lost")

// WriteError reports a failed durable ledger write. Correctness depends on
// the ledger, so callers treat it as fatal.
type WriteError struct {
	Op  string         // "record", "replace", "remove", "record-run"
	ID  ir.ChangesetID // zero for run history writes
	Err error
}

func (e *WriteError) Error() string {
	if e.ID.IsZero() {
		return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// LockHeldError reports that another run holds the ledger lease.
// Retryable once ExpiresAt has passed or the holder releases.
type LockHeldError struct {
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("ledger lock held by %s since %s (lease expires %s)",
		e.Owner, e.AcquiredAt.UTC().Format(time.RFC3339), e.ExpiresAt.UTC().Format(time.RFC3339))
}

// IsLockHeld reports whether err is or wraps a *LockHeldError.
func IsLockHeld(err error) bool {
	var le *LockHeldError
	return errors.As(err, &le)
}

// IsWriteError reports whether err is or wraps a *WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
