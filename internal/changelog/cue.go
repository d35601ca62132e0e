package changelog

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/changeling/internal/ir"
)

var cueChangesetFields = map[string]bool{
	"author": true, "id": true, "labels": true, "context": true, "contexts": true,
	"runWith": true, "comment": true, "forward": true, "rollback": true,
}

// parseCUE parses a CUE changelog:
//
//	dialect: "mongodb"
//	changesets: [
//		{author: "jbennett", id: "1", runWith: "mongosh", forward: "db.createCollection('Organizations')"},
//	]
//
// CUE list order is declaration order.
func parseCUE(file string, data []byte) ([]ir.Changeset, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(data, cue.Filename(file))
	if err := root.Err(); err != nil {
		return nil, cueParseError(file, err)
	}

	dialect, _, err := cueString(root, "dialect")
	if err != nil {
		return nil, newParseError(ErrCodeSyntax, file, root.Pos().Line(), "dialect: %v", err)
	}

	list := root.LookupPath(cue.ParsePath("changesets"))
	if !list.Exists() {
		return nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return nil, cueParseError(file, err)
	}

	var sets []ir.Changeset
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		line := item.Pos().Line()

		fields, err := item.Fields()
		if err != nil {
			return nil, newParseError(ErrCodeSyntax, file, line, "changesets[%d]: expected a struct", i)
		}
		for fields.Next() {
			if name := fields.Selector().String(); !cueChangesetFields[name] {
				return nil, newParseError(ErrCodeAttribute, file, fields.Value().Pos().Line(),
					"changesets[%d]: unknown field %q", i, name)
			}
		}

		cs, err := cueChangeset(item, dialect)
		if err != nil {
			return nil, newParseError(ErrCodeSyntax, file, line, "changesets[%d]: %v", i, err)
		}
		cs.Source = ir.SourcePos{File: file, Line: line}
		sets = append(sets, cs)
	}
	return sets, nil
}

func cueChangeset(v cue.Value, dialect string) (ir.Changeset, error) {
	var cs ir.Changeset
	var err error

	if cs.ID.Author, _, err = cueString(v, "author"); err != nil {
		return cs, fmt.Errorf("author: %w", err)
	}
	if cs.ID.ID, _, err = cueString(v, "id"); err != nil {
		return cs, fmt.Errorf("id: %w", err)
	}
	if cs.Labels, err = cueStrings(v, "labels"); err != nil {
		return cs, fmt.Errorf("labels: %w", err)
	}
	ctxs, err := cueStrings(v, "context")
	if err != nil {
		return cs, fmt.Errorf("context: %w", err)
	}
	more, err := cueStrings(v, "contexts")
	if err != nil {
		return cs, fmt.Errorf("contexts: %w", err)
	}
	cs.Context.Contexts = append(ctxs, more...)
	if cs.Context.RunWith, _, err = cueString(v, "runWith"); err != nil {
		return cs, fmt.Errorf("runWith: %w", err)
	}
	if cs.Comment, _, err = cueString(v, "comment"); err != nil {
		return cs, fmt.Errorf("comment: %w", err)
	}

	kind := operationKind(cs.Context.RunWith, dialect)
	forward, _, err := cueString(v, "forward")
	if err != nil {
		return cs, fmt.Errorf("forward: %w", err)
	}
	cs.Forward = ir.Operation{Kind: kind, Body: strings.TrimSpace(forward)}

	rollback, ok, err := cueString(v, "rollback")
	if err != nil {
		return cs, fmt.Errorf("rollback: %w", err)
	}
	if ok {
		cs.Rollback = &ir.Operation{Kind: kind, Body: strings.TrimSpace(rollback)}
	}
	return cs, nil
}

// cueString reads an optional string field. Integer ids are accepted and
// rendered in decimal.
func cueString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	switch fv.Kind() {
	case cue.StringKind:
		s, err := fv.String()
		return s, err == nil, err
	case cue.IntKind:
		n, err := fv.Int64()
		return strconv.FormatInt(n, 10), err == nil, err
	default:
		return "", false, fmt.Errorf("expected string, got %v", fv.Kind())
	}
}

// cueStrings reads an optional list of strings, or a comma-separated string.
func cueStrings(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	if fv.Kind() == cue.StringKind {
		s, err := fv.String()
		if err != nil {
			return nil, err
		}
		return splitList(s), nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// cueParseError keeps the first CUE error and its position.
func cueParseError(file string, err error) *ParseError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return newParseError(ErrCodeSyntax, file, 0, "%v", err)
	}
	first := errs[0]
	line := 0
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		line = pos[0].Line()
	}
	return newParseError(ErrCodeSyntax, file, line, "%v", first)
}
