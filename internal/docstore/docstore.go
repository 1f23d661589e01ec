// Package docstore is a small document database abstraction: JSON documents
// grouped in collections, addressed by id and queried by top-level field
// equality.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no document has the requested id.
var ErrNotFound = errors.New("document not found")

// Document is a stored JSON object. The id lives outside the body.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Filter matches documents whose top-level fields equal the given values.
// Values must be strings, booleans or numbers. The key "id" matches the
// document id.
type Filter map[string]any

// Store is implemented by every backend.
type Store interface {
	// Create stores doc, which must marshal to a JSON object, and returns
	// its new id.
	Create(ctx context.Context, coll string, doc any) (string, error)
	Get(ctx context.Context, coll, id string) (Document, error)
	// Find returns matching documents in creation order.
	Find(ctx context.Context, coll string, filter Filter) ([]Document, error)
	// Update replaces the given top-level fields.
	Update(ctx context.Context, coll, id string, partial map[string]any) error
	// UpdateIf applies partial only when the document also matches match,
	// atomically. It reports whether the update happened.
	UpdateIf(ctx context.Context, coll, id string, match Filter, partial map[string]any) (bool, error)
	Delete(ctx context.Context, coll, id string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string // sqlite, postgres or mongo
	DSN      string
	Database string // mongo only
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "mongo":
		return OpenMongo(ctx, cfg.DSN, cfg.Database)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func checkFields[V any](m map[string]V) error {
	for k := range m {
		if !fieldName.MatchString(k) {
			return fmt.Errorf("invalid field name %q", k)
		}
	}
	return nil
}

func checkFilter(f Filter) error {
	if err := checkFields(f); err != nil {
		return err
	}
	for k, v := range f {
		switch v.(type) {
		case string, bool, int, int64, float64:
		default:
			return fmt.Errorf("filter %q: unsupported value type %T", k, v)
		}
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// marshalObject encodes doc and checks it is a JSON object.
func marshalObject(doc any) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if len(b) == 0 || b[0] != '{' {
		return nil, fmt.Errorf("document must be a JSON object, got %.20s", b)
	}
	return b, nil
}

// marshalFields encodes every value of partial separately.
func marshalFields(partial map[string]any) (map[string]json.RawMessage, error) {
	if len(partial) == 0 {
		return nil, errors.New("empty update")
	}
	if err := checkFields(partial); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(partial))
	for k, v := range partial {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}
