package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents in a jsonb column.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the documents table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS documents_body ON documents USING GIN (body jsonb_path_ops);
	`)
	return err
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Create(ctx context.Context, coll string, doc any) (string, error) {
	body, err := marshalObject(doc)
	if err != nil {
		return "", err
	}
	id := newID()
	now := time.Now().UTC()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES ($1, $2, $3::jsonb, $4, $4)`,
		coll, id, string(body), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", coll, err)
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, coll, id string) (Document, error) {
	var body string
	err := p.pool.QueryRow(ctx,
		`SELECT body::text FROM documents WHERE collection = $1 AND id = $2`, coll, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	return Document{ID: id, Body: []byte(body)}, nil
}

func (p *Postgres) Find(ctx context.Context, coll string, filter Filter) ([]Document, error) {
	id, contains, err := pgFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, body::text FROM documents
		WHERE collection = $1 AND body @> $2::jsonb AND ($3 = '' OR id = $3)
		ORDER BY created_at, id`,
		coll, contains, id,
	)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", coll, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var body string
		if err := rows.Scan(&d.ID, &body); err != nil {
			return nil, err
		}
		d.Body = []byte(body)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (p *Postgres) Update(ctx context.Context, coll, id string, partial map[string]any) error {
	ok, err := p.UpdateIf(ctx, coll, id, nil, partial)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateIf(ctx context.Context, coll, id string, match Filter, partial map[string]any) (bool, error) {
	fields, err := marshalFields(partial)
	if err != nil {
		return false, err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return false, err
	}
	_, contains, err := pgFilter(match)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET body = body || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2 AND body @> $4::jsonb`,
		coll, id, string(patch), contains,
	)
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", coll, id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := p.Get(ctx, coll, id); err != nil {
		return false, err
	}
	return false, nil
}

func (p *Postgres) Delete(ctx context.Context, coll, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, coll, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// pgFilter splits the id match out of filter and encodes the rest as a
// jsonb containment document.
func pgFilter(filter Filter) (id, contains string, err error) {
	if err := checkFilter(filter); err != nil {
		return "", "", err
	}
	rest := make(map[string]any, len(filter))
	for k, v := range filter {
		if k == "id" {
			id = fmt.Sprint(v)
			continue
		}
		rest[k] = v
	}
	b, err := json.Marshal(rest)
	if err != nil {
		return "", "", err
	}
	return id, string(b), nil
}
