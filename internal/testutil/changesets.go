package testutil

import (
	"github.com/roach88/changeling/internal/ir"
)

// Changeset builds a checksummed changeset with a mongosh forward body and
// an optional rollback (empty string means none).
func Changeset(author, id, forward, rollback string) ir.Changeset {
	cs := ir.Changeset{
		ID:      ir.ChangesetID{Author: author, ID: id},
		Context: ir.Context{RunWith: "mongosh"},
		Forward: ir.Operation{Kind: "mongosh", Body: forward},
	}
	if rollback != "" {
		cs.Rollback = &ir.Operation{Kind: "mongosh", Body: rollback}
	}
	cs.Checksum = ir.MustChecksum(cs.ID, cs.Forward)
	return cs
}
