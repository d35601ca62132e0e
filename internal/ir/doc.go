// Package ir provides the value types shared by every changeling layer.
//
// This package contains type definitions and the canonical hashing used for
// changeset checksums. All other internal packages import ir; ir imports
// nothing internal.
//
// Key design constraints:
//   - Changesets are values: the parser returns an ordered slice, never a
//     mutable registry
//   - Operations are opaque (Kind + Body); only a target adapter interprets them
//   - Checksums are SHA-256 over canonical JSON with domain separation
//   - All JSON tags use snake_case
package ir
