package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Domain prefixes for content-addressed hashes.
// Version suffix enables future algorithm migration.
const (
	DomainChangeset = "changeling/changeset/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeBody collapses every run of whitespace to one space and trims
// the ends, so reformatting an operation does not change its checksum.
func NormalizeBody(body string) string {
	return strings.Join(strings.Fields(body), " ")
}

// Checksum computes the content checksum of a changeset.
//
// Only identity and the forward operation contribute. Labels, contexts,
// comments and the rollback text can be edited after apply without
// invalidating the ledger.
func Checksum(id ChangesetID, forward Operation) (string, error) {
	obj := map[string]any{
		"author":  id.Author,
		"id":      id.ID,
		"kind":    forward.Kind,
		"forward": NormalizeBody(forward.Body),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("checksum %s: %w", id, err)
	}
	return hashWithDomain(DomainChangeset, canonical), nil
}

// MustChecksum is like Checksum but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChecksum(id ChangesetID, forward Operation) string {
	sum, err := Checksum(id, forward)
	if err != nil {
		panic(err)
	}
	return sum
}
