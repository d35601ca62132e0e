// Package changelog parses changelog sources into an ordered sequence of
// changesets.
//
// Three source formats are understood, selected by file extension:
//
//   - Formatted text (.js, .sql, .txt): a "// liquibase formatted <dialect>"
//     header followed by "// changeset author:id key:value ..." blocks, each
//     with an optional "// rollback <text>" line.
//   - YAML (.yaml, .yml): a top-level "changesets" list.
//   - CUE (.cue): a top-level "changesets" list.
//
// Parsing is a pure transformation. The returned slice preserves
// declaration order exactly; that order drives apply order. Any structural
// problem yields a *ParseError and no changesets at all.
package changelog
