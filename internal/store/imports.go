package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examforge/internal/docstore"
)

// Import sources. Files read from disk are tracked by path; uploads are
// tracked by content and uploader since their names come from the client.
const (
	SourcePath   = "path"
	SourceUpload = "upload"
)

// ImportRecord remembers which file content produced which tests.
type ImportRecord struct {
	ID         string    `json:"id,omitempty"`
	Source     string    `json:"source"`
	File       string    `json:"file"`
	CreatedBy  string    `json:"created_by,omitempty"`
	SHA256     string    `json:"sha256"`
	TestIDs    []string  `json:"test_ids"`
	ImportedAt time.Time `json:"imported_at"`
}

// GetImport returns the latest import record for a file read from disk.
// Returns ErrNotFound if the file was never imported.
func (s *Store) GetImport(ctx context.Context, file string) (ImportRecord, error) {
	return s.latestImport(ctx, docstore.Filter{"source": SourcePath, "file": file})
}

// GetUpload returns the latest upload of content with the given hash by
// createdBy. Returns ErrNotFound if there is none.
func (s *Store) GetUpload(ctx context.Context, sha256, createdBy string) (ImportRecord, error) {
	return s.latestImport(ctx, docstore.Filter{"source": SourceUpload, "sha256": sha256, "created_by": createdBy})
}

func (s *Store) latestImport(ctx context.Context, filter docstore.Filter) (ImportRecord, error) {
	docs, err := s.docs.Find(ctx, CollImports, filter)
	if err != nil {
		return ImportRecord{}, fmt.Errorf("find import: %w", err)
	}
	if len(docs) == 0 {
		return ImportRecord{}, ErrNotFound
	}
	d := docs[len(docs)-1]
	var rec ImportRecord
	if err := json.Unmarshal(d.Body, &rec); err != nil {
		return ImportRecord{}, fmt.Errorf("decode import %s: %w", d.ID, err)
	}
	rec.ID = d.ID
	return rec, nil
}

// RecordImport stores rec and fills its id.
func (s *Store) RecordImport(ctx context.Context, rec *ImportRecord) error {
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = s.now()
	}
	if rec.Source == "" {
		rec.Source = SourcePath
	}
	if rec.TestIDs == nil {
		rec.TestIDs = []string{}
	}
	doc := *rec
	doc.ID = ""
	id, err := s.docs.Create(ctx, CollImports, doc)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	rec.ID = id
	return nil
}
