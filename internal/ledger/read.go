package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/changeling/internal/ir"
)

const selectEntryColumns = `
	SELECT author, changeset_id, checksum, applied_at, order_executed, run_with, contexts, labels, deployment_id
	FROM changelog_ledger
`

// IsApplied reports whether the ledger holds an entry for id.
func (l *Ledger) IsApplied(ctx context.Context, id ir.ChangesetID) (bool, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM changelog_ledger WHERE author = ? AND changeset_id = ?
	`, id.Author, id.ID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", id, err)
	}
	return count > 0, nil
}

// Get returns the entry for id. found is false when no entry exists.
func (l *Ledger) Get(ctx context.Context, id ir.ChangesetID) (entry ir.LedgerEntry, found bool, err error) {
	row := l.db.QueryRowContext(ctx, selectEntryColumns+`WHERE author = ? AND changeset_id = ?`, id.Author, id.ID)
	entry, err = scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.LedgerEntry{}, false, nil
	}
	if err != nil {
		return ir.LedgerEntry{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	return entry, true, nil
}

// ListApplied returns every entry ordered by apply order (oldest first).
// Returns an empty slice (not nil) when nothing has been applied.
func (l *Ledger) ListApplied(ctx context.Context) ([]ir.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, selectEntryColumns+`ORDER BY order_executed ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	entries := []ir.LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ir.LedgerEntry, error) {
	var e ir.LedgerEntry
	var appliedAt, contexts, labels string
	err := row.Scan(
		&e.ID.Author,
		&e.ID.ID,
		&e.Checksum,
		&appliedAt,
		&e.OrderExecuted,
		&e.Context.RunWith,
		&contexts,
		&labels,
		&e.DeploymentID,
	)
	if err != nil {
		return ir.LedgerEntry{}, err
	}

	if e.AppliedAt, err = parseTime(appliedAt); err != nil {
		return ir.LedgerEntry{}, err
	}
	if e.Context.Contexts, err = unmarshalStrings(contexts); err != nil {
		return ir.LedgerEntry{}, err
	}
	if e.Labels, err = unmarshalStrings(labels); err != nil {
		return ir.LedgerEntry{}, err
	}
	return e, nil
}

// ListRuns returns run history, most recent first. limit <= 0 means all.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]ir.RunSummary, error) {
	query := `
		SELECT deployment_id, command, dry_run, started_at, finished_at, error, results
		FROM changelog_runs
		ORDER BY started_at DESC, deployment_id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []ir.RunSummary{}
	for rows.Next() {
		var r ir.RunSummary
		var dryRun int
		var started, finished, results string
		if err := rows.Scan(&r.DeploymentID, &r.Command, &dryRun, &started, &finished, &r.Error, &results); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.DryRun = dryRun != 0
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
			return nil, fmt.Errorf("decode run results: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
