package handler

import (
	"io"
	"net/http"

	"github.com/pavelanni/examforge/internal/exam"
	"github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/model"
)

// handleImportTests imports an uploaded tests file (form field "tests_file").
// The form field "created_by" fills tests that name no creator. Re-uploading
// content the same creator already imported answers 200 without storing it
// again.
func (h *Handler) handleImportTests(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeError(w, &model.ValidationError{Field: "tests_file", Reason: "file too large or malformed form"})
		return
	}

	file, header, err := r.FormFile("tests_file")
	if err != nil {
		writeError(w, &model.ValidationError{Field: "tests_file", Reason: "no file uploaded"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.exams.ImportUpload(r.Context(), header.Filename, data, r.FormValue("created_by"))
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	var msg string
	switch res.Status {
	case exam.ImportUnchanged:
		status, msg = http.StatusOK, i18n.T(r.Context(), "ImportUnchanged")
	default:
		msg = i18n.Tp(r.Context(), "TestsImported", len(res.TestIDs))
	}
	writeJSON(w, status, map[string]any{
		"message":  msg,
		"status":   res.Status,
		"test_ids": res.TestIDs,
	})
}
