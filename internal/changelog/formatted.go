package changelog

import (
	"regexp"
	"strings"

	"github.com/roach88/changeling/internal/ir"
)

var (
	headerRe    = regexp.MustCompile(`^(//|--)\s*(?:liquibase|changeling)\s+formatted\s+(\S+)\s*$`)
	changesetRe = regexp.MustCompile(`^changeset\s+(\S+)(.*)$`)
	rollbackRe  = regexp.MustCompile(`^rollback(?:\s+(.*))?$`)
	commentRe   = regexp.MustCompile(`^comment:\s*(.*)$`)
)

// formattedState accumulates one changeset while scanning lines.
type formattedState struct {
	cs       ir.Changeset
	forward  []string
	rollback []string
	open     bool
}

// parseFormatted parses the comment-directive text format:
//
//	// liquibase formatted mongodb
//
//	// changeset jbennett:1 labels:release-1.0.0 runWith:mongosh
//	db.createCollection('Organizations');
//	// rollback db.Organizations.drop()
func parseFormatted(file, src string) ([]ir.Changeset, error) {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")

	prefix, dialect, start, err := readHeader(file, lines)
	if err != nil {
		return nil, err
	}

	var (
		sets []ir.Changeset
		cur  formattedState
	)

	flush := func() {
		if !cur.open {
			return
		}
		cur.cs.Forward.Body = strings.TrimSpace(strings.Join(cur.forward, "\n"))
		if len(cur.rollback) > 0 {
			cur.cs.Rollback = &ir.Operation{
				Kind: cur.cs.Forward.Kind,
				Body: strings.TrimSpace(strings.Join(cur.rollback, "\n")),
			}
		}
		sets = append(sets, cur.cs)
		cur = formattedState{}
	}

	for i := start; i < len(lines); i++ {
		lineNo := i + 1
		raw := lines[i]
		trimmed := strings.TrimSpace(raw)

		directive, isDirective := strings.CutPrefix(trimmed, prefix)
		directive = strings.TrimSpace(directive)

		if isDirective {
			if m := changesetRe.FindStringSubmatch(directive); m != nil {
				flush()
				cs, err := parseChangesetLine(file, lineNo, m[1], m[2], dialect)
				if err != nil {
					return nil, err
				}
				cur = formattedState{cs: cs, open: true}
				continue
			}
			if m := rollbackRe.FindStringSubmatch(directive); m != nil {
				if !cur.open {
					return nil, newParseError(ErrCodeStray, file, lineNo, "rollback outside of a changeset")
				}
				text := strings.TrimSpace(m[1])
				if text == "" {
					return nil, newParseError(ErrCodeEmptyRollback, file, lineNo, "changeset %s: rollback has no text", cur.cs.ID)
				}
				cur.rollback = append(cur.rollback, text)
				continue
			}
			if m := commentRe.FindStringSubmatch(directive); m != nil && cur.open {
				cur.cs.Comment = strings.TrimSpace(m[1])
				continue
			}
		}

		if !cur.open {
			if trimmed == "" || isDirective {
				continue
			}
			return nil, newParseError(ErrCodeStray, file, lineNo, "content outside of a changeset: %q", trimmed)
		}
		if len(cur.rollback) > 0 {
			if trimmed == "" || isDirective {
				continue
			}
			return nil, newParseError(ErrCodeStray, file, lineNo,
				"changeset %s: forward content after rollback directive", cur.cs.ID)
		}
		cur.forward = append(cur.forward, raw)
	}
	flush()

	return sets, nil
}

// readHeader finds the "formatted" header on the first non-blank line and
// returns the directive prefix, the dialect and the index of the next line.
func readHeader(file string, lines []string) (prefix, dialect string, next int, err error) {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := headerRe.FindStringSubmatch(trimmed)
		if m == nil {
			return "", "", 0, newParseError(ErrCodeHeader, file, i+1,
				`first line must be "// liquibase formatted <dialect>", got %q`, trimmed)
		}
		return m[1], m[2], i + 1, nil
	}
	return "", "", 0, newParseError(ErrCodeHeader, file, 0, "changelog is empty")
}

// parseChangesetLine parses "author:id key:value key:value".
func parseChangesetLine(file string, line int, ident, rest, dialect string) (ir.Changeset, error) {
	id, err := ir.ParseChangesetID(ident)
	if err != nil {
		return ir.Changeset{}, newParseError(ErrCodeChangesetLine, file, line, "%v", err)
	}

	cs := ir.Changeset{
		ID:     id,
		Source: ir.SourcePos{File: file, Line: line},
	}

	for _, tok := range strings.Fields(rest) {
		key, value, ok := strings.Cut(tok, ":")
		if !ok || value == "" {
			return ir.Changeset{}, newParseError(ErrCodeAttribute, file, line,
				"changeset %s: malformed attribute %q, want key:value", id, tok)
		}
		switch strings.ToLower(key) {
		case "labels":
			cs.Labels = append(cs.Labels, splitList(value)...)
		case "context", "contexts", "contextfilter":
			cs.Context.Contexts = append(cs.Context.Contexts, splitList(value)...)
		case "runwith":
			cs.Context.RunWith = value
		default:
			return ir.Changeset{}, newParseError(ErrCodeAttribute, file, line,
				"changeset %s: unknown attribute %q", id, key)
		}
	}

	cs.Forward.Kind = operationKind(cs.Context.RunWith, dialect)
	return cs, nil
}
