package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/changeling/internal/ir"
)

// ChangesetStatus is the standing of one changeset relative to the ledger.
type ChangesetStatus string

const (
	StatusApplied ChangesetStatus = "applied" // in ledger, checksum matches
	StatusChanged ChangesetStatus = "changed" // in ledger, text edited since apply
	StatusPending ChangesetStatus = "pending" // not in ledger
	StatusUnknown ChangesetStatus = "unknown" // in ledger, missing from changelog
)

// StatusEntry is one row of a status report.
type StatusEntry struct {
	ID            ir.ChangesetID  `json:"id"`
	Status        ChangesetStatus `json:"status"`
	Checksum      string          `json:"checksum"`
	AppliedAt     *time.Time      `json:"applied_at,omitempty"`
	OrderExecuted int64           `json:"order_executed,omitempty"`
	DeploymentID  string          `json:"deployment_id,omitempty"`
	Labels        []string        `json:"labels,omitempty"`
	Rollback      bool            `json:"rollback"`
}

// BuildStatus compares a changelog with the applied-set. Changelog entries
// come first in changelog order, then ledger entries the changelog no
// longer declares, in apply order.
func BuildStatus(changesets []ir.Changeset, applied []ir.LedgerEntry) []StatusEntry {
	recorded := indexEntries(applied)
	out := make([]StatusEntry, 0, len(changesets))
	seen := make(map[ir.ChangesetID]bool, len(changesets))

	for _, cs := range changesets {
		seen[cs.ID] = true
		row := StatusEntry{
			ID:       cs.ID,
			Status:   StatusPending,
			Checksum: cs.Checksum,
			Labels:   cs.Labels,
			Rollback: cs.HasRollback(),
		}
		if entry, ok := recorded[cs.ID]; ok {
			row.Status = StatusApplied
			if entry.Checksum != cs.Checksum {
				row.Status = StatusChanged
			}
			fillApplied(&row, entry)
		}
		out = append(out, row)
	}

	for _, entry := range applied {
		if seen[entry.ID] {
			continue
		}
		row := StatusEntry{
			ID:       entry.ID,
			Status:   StatusUnknown,
			Checksum: entry.Checksum,
			Labels:   entry.Labels,
		}
		fillApplied(&row, entry)
		out = append(out, row)
	}
	return out
}

func fillApplied(row *StatusEntry, entry ir.LedgerEntry) {
	appliedAt := entry.AppliedAt
	row.AppliedAt = &appliedAt
	row.OrderExecuted = entry.OrderExecuted
	row.DeploymentID = entry.DeploymentID
}

// Status reports applied, changed, pending and unknown changesets.
// Read-only: it neither takes the lease nor touches the target.
func (e *Engine) Status(ctx context.Context, changesets []ir.Changeset) ([]StatusEntry, error) {
	applied, err := e.ledger.ListApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("load applied set: %w", err)
	}
	return BuildStatus(changesets, applied), nil
}

// CountStatus tallies a status report by status.
func CountStatus(rows []StatusEntry) map[ChangesetStatus]int {
	counts := make(map[ChangesetStatus]int, 4)
	for _, row := range rows {
		counts[row.Status]++
	}
	return counts
}
