package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/changeling/internal/ir"
)

// Kinds lists the operation kinds Execute accepts. The empty kind is a
// changeset without runWith in a mongodb changelog.
var Kinds = []string{"", "mongosh", "mongo", "mongodb"}

// SupportsKind reports whether Execute accepts operations of kind.
func SupportsKind(kind string) bool {
	for _, k := range Kinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

// Execute runs every statement of op in a single transaction: either all of
// them take effect or none do.
func (s *Store) Execute(ctx context.Context, op ir.Operation) error {
	if !SupportsKind(op.Kind) {
		return &Error{Code: ErrCodeUnsupported, Message: fmt.Sprintf("operation kind %q is not supported", op.Kind)}
	}
	stmts, err := ParseStatements(op.Body)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(Statement{}, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, st := range stmts {
		n, err := apply(ctx, tx, st)
		if err != nil {
			return err
		}
		s.logger.Debug("docstore statement", "statement", st.Target(), "line", st.Line, "affected", n)
	}

	if err := tx.Commit(); err != nil {
		return storageError(Statement{}, err)
	}
	return nil
}

func apply(ctx context.Context, tx *sql.Tx, st Statement) (int, error) {
	if st.Collection == "" {
		if st.Method == "createCollection" {
			return createCollection(ctx, tx, st)
		}
		return 0, errorf(st, ErrCodeUnsupported, "database method %s is not supported", st.Method)
	}

	switch st.Method {
	case "insertOne":
		if len(st.Args) < 1 {
			return 0, errorf(st, ErrCodeArgument, "insertOne expects a document")
		}
		return insertDocuments(ctx, tx, st, st.Args[:1])
	case "insertMany":
		if len(st.Args) < 1 {
			return 0, errorf(st, ErrCodeArgument, "insertMany expects an array of documents")
		}
		docs, ok := st.Args[0].([]any)
		if !ok {
			return 0, errorf(st, ErrCodeArgument, "insertMany expects an array of documents, got %T", st.Args[0])
		}
		return insertDocuments(ctx, tx, st, docs)
	case "deleteOne":
		return deleteDocuments(ctx, tx, st, 1)
	case "deleteMany":
		return deleteDocuments(ctx, tx, st, 0)
	case "updateOne":
		return updateDocuments(ctx, tx, st, 1)
	case "updateMany":
		return updateDocuments(ctx, tx, st, 0)
	case "drop":
		return dropCollection(ctx, tx, st)
	}
	return 0, errorf(st, ErrCodeUnsupported, "collection method %s is not supported", st.Method)
}

func createCollection(ctx context.Context, tx *sql.Tx, st Statement) (int, error) {
	if len(st.Args) < 1 || len(st.Args) > 2 {
		return 0, errorf(st, ErrCodeArgument, "createCollection expects a name and optional options")
	}
	name, ok := st.Args[0].(string)
	if !ok || name == "" {
		return 0, errorf(st, ErrCodeArgument, "collection name must be a non-empty string")
	}
	st.Collection = name

	validator := ""
	if len(st.Args) == 2 {
		jsonSchema, hasValidator, err := ValidatorFromOptions(st.Args[1])
		if err != nil {
			return 0, errorf(st, ErrCodeArgument, "%v", err)
		}
		if hasValidator {
			raw, _, err := CompileValidator(jsonSchema)
			if err != nil {
				return 0, errorf(st, ErrCodeArgument, "invalid $jsonSchema: %v", err)
			}
			validator = raw
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, validator) VALUES (?, ?)
	`, name, validator)
	if isConstraint(err) {
		return 0, errorf(st, ErrCodeCollectionExists, "collection %q already exists", name)
	}
	if err != nil {
		return 0, storageError(st, err)
	}
	return 1, nil
}

func dropCollection(ctx context.Context, tx *sql.Tx, st Statement) (int, error) {
	if _, _, err := lookupCollection(ctx, tx, st); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, st.Collection)
	if err != nil {
		return 0, storageError(st, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, st.Collection); err != nil {
		return 0, storageError(st, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func insertDocuments(ctx context.Context, tx *sql.Tx, st Statement, docs []any) (int, error) {
	_, schema, err := lookupCollection(ctx, tx, st)
	if err != nil {
		return 0, err
	}

	for i, raw := range docs {
		doc, ok := raw.(map[string]any)
		if !ok {
			return i, errorf(st, ErrCodeArgument, "document %d is not an object (%T)", i, raw)
		}
		if _, has := doc["_id"]; !has {
			doc["_id"] = newObjectID()
		}
		if schema != nil {
			if err := validate(schema, doc); err != nil {
				return i, errorf(st, ErrCodeValidation, "document %d failed validation: %v", i, err)
			}
		}

		id, err := valueKey(doc["_id"])
		if err != nil {
			return i, errorf(st, ErrCodeArgument, "document %d: invalid _id: %v", i, err)
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return i, errorf(st, ErrCodeArgument, "document %d: %v", i, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, doc_id, body) VALUES (?, ?, ?)
		`, st.Collection, id, string(body))
		if isConstraint(err) {
			return i, errorf(st, ErrCodeDuplicateKey, "duplicate _id %s", id)
		}
		if err != nil {
			return i, storageError(st, err)
		}
	}
	return len(docs), nil
}

func deleteDocuments(ctx context.Context, tx *sql.Tx, st Statement, limit int) (int, error) {
	if len(st.Args) < 1 {
		return 0, errorf(st, ErrCodeArgument, "%s expects a filter", st.Method)
	}
	filter, err := filterArg(st, st.Args[0])
	if err != nil {
		return 0, err
	}
	if _, _, err := lookupCollection(ctx, tx, st); err != nil {
		return 0, err
	}

	matched, err := scanDocuments(ctx, tx, st, filter)
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	for _, d := range matched {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE seq = ?`, d.seq); err != nil {
			return 0, storageError(st, err)
		}
	}
	return len(matched), nil
}

func updateDocuments(ctx context.Context, tx *sql.Tx, st Statement, limit int) (int, error) {
	if len(st.Args) < 2 {
		return 0, errorf(st, ErrCodeArgument, "%s expects a filter and an update", st.Method)
	}
	filter, err := filterArg(st, st.Args[0])
	if err != nil {
		return 0, err
	}
	upd, err := parseUpdate(st, st.Args[1])
	if err != nil {
		return 0, err
	}
	_, schema, err := lookupCollection(ctx, tx, st)
	if err != nil {
		return 0, err
	}

	matched, err := scanDocuments(ctx, tx, st, filter)
	if err != nil {
		return 0, err
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	for _, d := range matched {
		upd.applyTo(d.doc)
		if schema != nil {
			if err := validate(schema, d.doc); err != nil {
				return 0, errorf(st, ErrCodeValidation, "updated document failed validation: %v", err)
			}
		}
		body, err := json.Marshal(d.doc)
		if err != nil {
			return 0, errorf(st, ErrCodeArgument, "%v", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = ? WHERE seq = ?`, string(body), d.seq); err != nil {
			return 0, storageError(st, err)
		}
	}
	return len(matched), nil
}

// update is a parsed {$set: {...}, $unset: {...}} document.
type update struct {
	set   map[string]any
	unset []string
}

func parseUpdate(st Statement, arg any) (update, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return update{}, errorf(st, ErrCodeArgument, "update must be an object, got %T", arg)
	}
	var u update
	for op, v := range m {
		fields, ok := v.(map[string]any)
		if !ok {
			return update{}, errorf(st, ErrCodeArgument, "%s expects an object", op)
		}
		for field := range fields {
			if field == "_id" {
				return update{}, errorf(st, ErrCodeArgument, "_id cannot be modified")
			}
			if strings.Contains(field, ".") {
				return update{}, errorf(st, ErrCodeUnsupported, "dotted field path %s is not supported", field)
			}
		}
		switch op {
		case "$set":
			u.set = fields
		case "$unset":
			for field := range fields {
				u.unset = append(u.unset, field)
			}
		default:
			return update{}, errorf(st, ErrCodeUnsupported, "update operator %s is not supported (use $set or $unset)", op)
		}
	}
	if u.set == nil && u.unset == nil {
		return update{}, errorf(st, ErrCodeArgument, "update has no $set or $unset")
	}
	return u, nil
}

func (u update) applyTo(doc Document) {
	for k, v := range u.set {
		doc[k] = v
	}
	for _, k := range u.unset {
		delete(doc, k)
	}
}

func filterArg(st Statement, arg any) (Filter, error) {
	f, err := compileFilter(arg)
	if errors.Is(err, errUnsupportedOperator) {
		return nil, errorf(st, ErrCodeUnsupported, "%v", err)
	}
	if err != nil {
		return nil, errorf(st, ErrCodeArgument, "%v", err)
	}
	return f, nil
}

func lookupCollection(ctx context.Context, tx *sql.Tx, st Statement) (string, *gojsonschema.Schema, error) {
	var validator string
	err := tx.QueryRowContext(ctx, `
		SELECT validator FROM collections WHERE name = ?
	`, st.Collection).Scan(&validator)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, errorf(st, ErrCodeUnknownCollection, "collection %q does not exist", st.Collection)
	}
	if err != nil {
		return "", nil, storageError(st, err)
	}
	if validator == "" {
		return "", nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(validator))
	if err != nil {
		return "", nil, storageError(st, fmt.Errorf("stored validator: %w", err))
	}
	return validator, schema, nil
}

type storedDoc struct {
	seq int64
	doc Document
}

func scanDocuments(ctx context.Context, tx *sql.Tx, st Statement, filter Filter) ([]storedDoc, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT seq, body FROM documents WHERE collection = ? ORDER BY seq ASC
	`, st.Collection)
	if err != nil {
		return nil, storageError(st, err)
	}
	defer rows.Close()

	var out []storedDoc
	for rows.Next() {
		var seq int64
		var body string
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, storageError(st, err)
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, storageError(st, err)
		}
		if filter.Matches(doc) {
			out = append(out, storedDoc{seq: seq, doc: doc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(st, err)
	}
	return out, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
