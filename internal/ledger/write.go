package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/changeling/internal/ir"
)

// insertEntrySQL assigns order_executed in the same statement so apply order
// is decided by the ledger, never by the caller.
const insertEntrySQL = `
	INSERT INTO changelog_ledger
	(author, changeset_id, checksum, applied_at, order_executed, run_with, contexts, labels, deployment_id)
	VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(order_executed), 0) + 1 FROM changelog_ledger), ?, ?, ?, ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Record durably marks a changeset as applied. It must only be called after
// the changeset's forward operation succeeded.
//
// Recording an identity that is already present is an error: entries are
// never mutated in place. Use Replace for a forced re-apply.
func (l *Ledger) Record(ctx context.Context, entry ir.LedgerEntry) error {
	if err := insertEntry(ctx, l.db, entry); err != nil {
		return &WriteError{Op: "record", ID: entry.ID, Err: err}
	}
	return nil
}

// Replace atomically drops any existing entry for the identity and records
// the new one, giving it a fresh order_executed. Used when a forced apply
// re-executes a changeset whose checksum changed.
func (l *Ledger) Replace(ctx context.Context, entry ir.LedgerEntry) error {
	wrap := func(err error) error {
		return &WriteError{Op: "replace", ID: entry.ID, Err: err}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM changelog_ledger WHERE author = ? AND changeset_id = ?
	`, entry.ID.Author, entry.ID.ID); err != nil {
		return wrap(fmt.Errorf("delete: %w", err))
	}
	if err := insertEntry(ctx, tx, entry); err != nil {
		return wrap(err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func insertEntry(ctx context.Context, db execer, entry ir.LedgerEntry) error {
	contexts, err := marshalStrings(entry.Context.Contexts)
	if err != nil {
		return err
	}
	labels, err := marshalStrings(entry.Labels)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, insertEntrySQL,
		entry.ID.Author,
		entry.ID.ID,
		entry.Checksum,
		formatTime(entry.AppliedAt),
		entry.Context.RunWith,
		contexts,
		labels,
		entry.DeploymentID,
	)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// Remove deletes the entry for a changeset. Used only by rollback, one
// entry at a time, immediately after that changeset's inverse succeeded.
// Removing an absent identity is an error: it means the ledger and the
// caller disagree.
func (l *Ledger) Remove(ctx context.Context, id ir.ChangesetID) error {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM changelog_ledger WHERE author = ? AND changeset_id = ?
	`, id.Author, id.ID)
	if err != nil {
		return &WriteError{Op: "remove", ID: id, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &WriteError{Op: "remove", ID: id, Err: err}
	}
	if n == 0 {
		return &WriteError{Op: "remove", ID: id, Err: fmt.Errorf("no ledger entry")}
	}
	return nil
}

// RecordRun stores the summary of an apply or rollback run.
// ON CONFLICT keeps the first write for a deployment id.
func (l *Ledger) RecordRun(ctx context.Context, summary ir.RunSummary) error {
	results, err := json.Marshal(summary.Results)
	if err != nil {
		return &WriteError{Op: "record-run", Err: err}
	}

	dryRun := 0
	if summary.DryRun {
		dryRun = 1
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO changelog_runs
		(deployment_id, command, dry_run, started_at, finished_at, outcome, error, results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(deployment_id) DO NOTHING
	`,
		summary.DeploymentID,
		summary.Command,
		dryRun,
		formatTime(summary.StartedAt),
		formatTime(summary.FinishedAt),
		summary.Outcome(),
		summary.Error,
		string(results),
	)
	if err != nil {
		return &WriteError{Op: "record-run", Err: err}
	}
	return nil
}
