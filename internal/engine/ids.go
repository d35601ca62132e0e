package engine

import (
	"github.com/google/uuid"
)

// IDGenerator generates deployment ids. A run's deployment id also names
// its lease owner, so ids must be unique across processes.
// Implemented by UUIDv7Generator (production) and
// testutil.SequenceIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 deployment ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ledger rows
// and run history sort by creation time when ordered by deployment id.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Format: "550e8400-e29b-41d4-a716-446655440000" (36 characters)
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
