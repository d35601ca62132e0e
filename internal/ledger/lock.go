package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LockInfo describes the current lease holder.
type LockInfo struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Expired    bool      `json:"expired"`
}

// AcquireLock takes the single-writer lease for owner, valid for ttl.
//
// An expired lease is reclaimed. A live lease held by anyone (including
// owner itself) yields *LockHeldError immediately; this call never blocks
// on a held lease. Callers that want to wait poll with their own timeout.
func (l *Ledger) AcquireLock(ctx context.Context, owner string, ttl time.Duration) error {
	now := l.now()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("acquire lock: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM changelog_lock WHERE expires_at <= ?
	`, now.UnixNano()); err != nil {
		return fmt.Errorf("acquire lock: reclaim expired: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO changelog_lock (id, owner, acquired_at, expires_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, owner, now.UnixNano(), now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("acquire lock: insert: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquire lock: rows affected: %w", err)
	}
	if n == 0 {
		info, err := readLock(ctx, tx)
		if err != nil {
			return fmt.Errorf("acquire lock: read holder: %w", err)
		}
		return &LockHeldError{Owner: info.Owner, AcquiredAt: info.AcquiredAt, ExpiresAt: info.ExpiresAt}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("acquire lock: commit: %w", err)
	}
	return nil
}

// RenewLock extends owner's lease to now+ttl. Returns ErrLeaseLost when
// owner no longer holds a live lease.
func (l *Ledger) RenewLock(ctx context.Context, owner string, ttl time.Duration) error {
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE changelog_lock SET expires_at = ?
		WHERE id = 1 AND owner = ? AND expires_at > ?
	`, now.Add(ttl).UnixNano(), owner, now.UnixNano())
	if err != nil {
		return fmt.Errorf("renew lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renew lock: rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLock drops the lease if owner holds it. Releasing a lease that is
// not held by owner is a no-op.
func (l *Ledger) ReleaseLock(ctx context.Context, owner string) error {
	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM changelog_lock WHERE id = 1 AND owner = ?
	`, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ForceReleaseLock drops any lease regardless of holder. For operators
// clearing a lease left by a crashed run. Returns whether a lease existed.
func (l *Ledger) ForceReleaseLock(ctx context.Context) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM changelog_lock WHERE id = 1`)
	if err != nil {
		return false, fmt.Errorf("force release lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("force release lock: rows affected: %w", err)
	}
	return n > 0, nil
}

// LockStatus returns the current lease, or nil when none is recorded.
func (l *Ledger) LockStatus(ctx context.Context) (*LockInfo, error) {
	info, err := readLock(ctx, l.db)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock status: %w", err)
	}
	info.Expired = !info.ExpiresAt.After(l.now())
	return info, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readLock(ctx context.Context, db queryRower) (*LockInfo, error) {
	var owner string
	var acquired, expires int64
	err := db.QueryRowContext(ctx, `
		SELECT owner, acquired_at, expires_at FROM changelog_lock WHERE id = 1
	`).Scan(&owner, &acquired, &expires)
	if err != nil {
		return nil, err
	}
	return &LockInfo{
		Owner:      owner,
		AcquiredAt: time.Unix(0, acquired).UTC(),
		ExpiresAt:  time.Unix(0, expires).UTC(),
	}, nil
}
