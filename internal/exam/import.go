package exam

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/store"
)

// ImportStatus tells what Import did with a file.
type ImportStatus string

const (
	ImportDone      ImportStatus = "imported"
	ImportUnchanged ImportStatus = "unchanged"
	ImportChanged   ImportStatus = "changed"
)

// ImportResult reports the outcome of one Import call.
type ImportResult struct {
	Status  ImportStatus
	TestIDs []string
}

// Import stores the tests defined in data, a JSON array of test
// definitions read from the file at path. createdBy fills tests that name no
// creator. A path is imported once: the same content again is skipped, and
// changed content is skipped with a warning so existing attempts keep their
// questions. Every test is validated before any is stored.
func (s *Service) Import(ctx context.Context, path string, data []byte, createdBy string) (ImportResult, error) {
	hash := sha256sum(data)
	prev, err := s.store.GetImport(ctx, path)
	switch {
	case err == nil:
		if prev.SHA256 == hash {
			slog.Info("tests file unchanged, skipping", "path", path)
			return ImportResult{Status: ImportUnchanged, TestIDs: prev.TestIDs}, nil
		}
		slog.Warn("tests file changed since last import, skipping to avoid breaking existing attempts",
			"path", path)
		return ImportResult{Status: ImportChanged, TestIDs: prev.TestIDs}, nil
	case !errors.Is(err, store.ErrNotFound):
		return ImportResult{}, fmt.Errorf("check import status for %s: %w", path, err)
	}
	return s.importTests(ctx, store.ImportRecord{Source: store.SourcePath, File: path, SHA256: hash}, data, createdBy)
}

// ImportUpload is Import for an uploaded file. The client-supplied name is
// only recorded; an upload is skipped when createdBy already uploaded the
// same content.
func (s *Service) ImportUpload(ctx context.Context, name string, data []byte, createdBy string) (ImportResult, error) {
	hash := sha256sum(data)
	prev, err := s.store.GetUpload(ctx, hash, createdBy)
	switch {
	case err == nil:
		slog.Info("uploaded tests already imported, skipping", "name", name, "created_by", createdBy)
		return ImportResult{Status: ImportUnchanged, TestIDs: prev.TestIDs}, nil
	case !errors.Is(err, store.ErrNotFound):
		return ImportResult{}, fmt.Errorf("check upload status for %s: %w", name, err)
	}
	rec := store.ImportRecord{Source: store.SourceUpload, File: name, CreatedBy: createdBy, SHA256: hash}
	return s.importTests(ctx, rec, data, createdBy)
}

func (s *Service) importTests(ctx context.Context, rec store.ImportRecord, data []byte, createdBy string) (ImportResult, error) {
	var inputs []TestInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return ImportResult{}, &model.ValidationError{Field: "file", Reason: fmt.Sprintf("parse %s: %v", rec.File, err)}
	}
	tests := make([]model.Test, 0, len(inputs))
	for i, in := range inputs {
		if in.CreatedBy == "" {
			in.CreatedBy = createdBy
		}
		t, err := in.build()
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				return ImportResult{}, &model.ValidationError{Field: fmt.Sprintf("tests[%d].%s", i, ve.Field), Reason: ve.Reason}
			}
			return ImportResult{}, err
		}
		tests = append(tests, t)
	}

	rec.TestIDs = make([]string, 0, len(tests))
	for i := range tests {
		if err := s.store.CreateTest(ctx, &tests[i]); err != nil {
			return ImportResult{}, fmt.Errorf("insert test from %s: %w", rec.File, err)
		}
		rec.TestIDs = append(rec.TestIDs, tests[i].ID)
	}
	if err := s.store.RecordImport(ctx, &rec); err != nil {
		return ImportResult{}, fmt.Errorf("record import for %s: %w", rec.File, err)
	}
	slog.Info("imported tests", "source", rec.Source, "file", rec.File, "count", len(rec.TestIDs))
	return ImportResult{Status: ImportDone, TestIDs: rec.TestIDs}, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
