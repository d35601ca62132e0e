package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed document store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for per-statement debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates or opens a document store at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docstore: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to docstore: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply docstore schema: %w", err)
	}

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Collections returns the names of all collections, sorted.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Find returns the documents of collection matching filter, in insertion
// order. A nil or empty filter matches every document.
func (s *Store) Find(ctx context.Context, collection string, filter map[string]any) ([]Document, error) {
	st := Statement{Collection: collection, Method: "find"}
	if filter == nil {
		filter = map[string]any{}
	}
	f, err := compileFilter(filter)
	if err != nil {
		return nil, &Error{Code: ErrCodeArgument, Statement: st.Target(), Message: err.Error()}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError(st, err)
	}
	defer tx.Rollback()

	if _, _, err := lookupCollection(ctx, tx, st); err != nil {
		return nil, err
	}
	rows, err := scanDocuments(ctx, tx, st, f)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docs, nil
}

// Validator returns the stored JSON Schema of a collection ("" if none).
func (s *Store) Validator(ctx context.Context, collection string) (string, error) {
	st := Statement{Collection: collection, Method: "getValidator"}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageError(st, err)
	}
	defer tx.Rollback()

	validator, _, err := lookupCollection(ctx, tx, st)
	return validator, err
}
