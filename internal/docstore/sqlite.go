package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores documents as JSON text and queries them with the JSON1
// functions.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" is
// supported; the pool is pinned to one connection so every caller sees the
// same database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = "examforge.db"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_created ON documents (collection, created_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, coll string, doc any) (string, error) {
	body, err := marshalObject(doc)
	if err != nil {
		return "", err
	}
	id := newID()
	now := time.Now().UnixNano()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, json(?), ?, ?)`,
		coll, id, string(body), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", coll, err)
	}
	return id, nil
}

func (s *SQLite) Get(ctx context.Context, coll, id string) (Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, coll, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	return Document{ID: id, Body: []byte(body)}, nil
}

func (s *SQLite) Find(ctx context.Context, coll string, filter Filter) ([]Document, error) {
	where, args, err := sqliteWhere(filter)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, body FROM documents WHERE collection = ?` + where + ` ORDER BY created_at, rowid`
	rows, err := s.db.QueryContext(ctx, query, append([]any{coll}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", coll, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Body: []byte(body)})
	}
	return docs, rows.Err()
}

func (s *SQLite) Update(ctx context.Context, coll, id string, partial map[string]any) error {
	ok, err := s.UpdateIf(ctx, coll, id, nil, partial)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) UpdateIf(ctx context.Context, coll, id string, match Filter, partial map[string]any) (bool, error) {
	set, setArgs, err := sqliteSet(partial)
	if err != nil {
		return false, err
	}
	where, whereArgs, err := sqliteWhere(match)
	if err != nil {
		return false, err
	}

	args := append(setArgs, time.Now().UnixNano(), coll, id)
	args = append(args, whereArgs...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = `+set+`, updated_at = ? WHERE collection = ? AND id = ?`+where,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", coll, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, coll, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLite) Delete(ctx context.Context, coll, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, coll, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// sqliteWhere renders filter as " AND ..." clauses in a stable order.
func sqliteWhere(filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	if err := checkFilter(filter); err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	var args []any
	for _, k := range sortedKeys(filter) {
		v := filter[k]
		if k == "id" {
			sb.WriteString(" AND id = ?")
		} else {
			sb.WriteString(" AND json_extract(body, '$." + k + "') = ?")
		}
		if b, ok := v.(bool); ok {
			v = 0
			if b {
				v = 1
			}
		}
		args = append(args, v)
	}
	return sb.String(), args, nil
}

// sqliteSet renders a json_set call replacing each top-level field.
func sqliteSet(partial map[string]any) (string, []any, error) {
	fields, err := marshalFields(partial)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	var args []any
	sb.WriteString("json_set(body")
	for _, k := range sortedKeys(fields) {
		sb.WriteString(", '$." + k + "', json(?)")
		args = append(args, string(fields[k]))
	}
	sb.WriteString(")")
	return sb.String(), args, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
