package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/changeling/internal/ir"
	"github.com/roach88/changeling/internal/testutil"
)

// createTestLedger opens a fresh ledger file under t.TempDir.
func createTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// createTestEntry builds an entry with the fields Record requires.
func createTestEntry(author, id string, appliedAt time.Time) ir.LedgerEntry {
	return ir.LedgerEntry{
		ID:           ir.ChangesetID{Author: author, ID: id},
		Checksum:     "sum-" + author + "-" + id,
		AppliedAt:    appliedAt,
		Context:      ir.Context{RunWith: "mongosh"},
		DeploymentID: "deploy-1",
	}
}

var epoch = testutil.Epoch
