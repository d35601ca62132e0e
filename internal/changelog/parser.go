package changelog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/changeling/internal/ir"
)

// Format identifies a changelog source syntax.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// DefaultDialect is the operation kind used when a changelog names none.
const DefaultDialect = "mongodb"

// FormatFor picks the source format from a file name.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".sql", ".txt":
		return FormatText, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", newParseError(ErrCodeFormat, path, 0, "unsupported changelog extension %q", filepath.Ext(path))
	}
}

// ParseFile reads and parses the changelog at path.
func ParseFile(path string) ([]ir.Changeset, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newParseError(ErrCodeRead, path, 0, "read changelog: %v", err)
	}
	return Parse(path, data, format)
}

// Parse parses changelog source text. name is used in error positions only.
// The result preserves declaration order.
func Parse(name string, data []byte, format Format) ([]ir.Changeset, error) {
	var (
		sets []ir.Changeset
		err  error
	)
	switch format {
	case FormatText:
		sets, err = parseFormatted(name, string(data))
	case FormatYAML:
		sets, err = parseYAML(name, data)
	case FormatCUE:
		sets, err = parseCUE(name, data)
	default:
		return nil, newParseError(ErrCodeFormat, name, 0, "unsupported changelog format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return finalize(name, sets)
}

// finalize checks required fields and identity uniqueness, then stamps
// checksums. It never reorders.
func finalize(file string, sets []ir.Changeset) ([]ir.Changeset, error) {
	seen := make(map[ir.ChangesetID]int, len(sets))
	out := make([]ir.Changeset, 0, len(sets))

	for _, cs := range sets {
		if cs.Source.File == "" {
			cs.Source.File = file
		}
		line := cs.Source.Line

		if strings.TrimSpace(cs.ID.Author) == "" {
			return nil, newParseError(ErrCodeMissingField, file, line, "changeset %q: author is required", cs.ID)
		}
		if strings.TrimSpace(cs.ID.ID) == "" {
			return nil, newParseError(ErrCodeMissingField, file, line, "changeset %q: id is required", cs.ID)
		}
		if strings.TrimSpace(cs.Forward.Body) == "" {
			return nil, newParseError(ErrCodeMissingForward, file, line, "changeset %s: forward operation is required", cs.ID)
		}
		if first, dup := seen[cs.ID]; dup {
			return nil, newParseError(ErrCodeDuplicate, file, line,
				"duplicate changeset %s (first declared at line %d)", cs.ID, first)
		}
		seen[cs.ID] = line

		if cs.Rollback != nil && strings.TrimSpace(cs.Rollback.Body) == "" {
			cs.Rollback = nil
		}

		sum, err := ir.Checksum(cs.ID, cs.Forward)
		if err != nil {
			return nil, newParseError(ErrCodeSyntax, file, line, "%v", err)
		}
		cs.Checksum = sum
		out = append(out, cs)
	}

	return out, nil
}

// splitList splits a comma-separated attribute value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// operationKind resolves the adapter dialect for a changeset.
func operationKind(runWith, dialect string) string {
	if runWith != "" {
		return runWith
	}
	if dialect != "" {
		return dialect
	}
	return DefaultDialect
}
