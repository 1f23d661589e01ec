// Package handler is the JSON HTTP API over the exam service.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examforge/internal/exam"
	"github.com/pavelanni/examforge/internal/generate"
	"github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/store"
)

const maxBodyBytes = 10 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	exams *exam.Service
}

// New creates a new Handler.
func New(exams *exam.Service) *Handler {
	return &Handler{exams: exams}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Post("/tests", h.handleCreateTest)
		r.Post("/tests/generate", h.handleGenerateTest)
		r.Post("/tests/import", h.handleImportTests)
		r.Get("/tests/all", h.handleListTests)
		r.Get("/tests/available", h.handleListAvailable)
		r.Get("/tests/{testID}", h.handleGetTest)
		r.Put("/tests/{testID}", h.handleUpdateTest)
		r.Delete("/tests/{testID}", h.handleDeleteTest)
		r.Get("/tests/{testID}/export", h.handleExportTest)
		r.Post("/tests/{testID}/start", h.handleStartAttempt)
		r.Get("/teachers/{teacherID}/tests", h.handleTeacherTests)

		r.Post("/attempts/{attemptID}/submit", h.handleSubmitAttempt)
		r.Get("/students/{studentID}/attempts", h.handleStudentAttempts)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var in exam.TestInput
	if !decodeBody(w, r, &in) {
		return
	}
	t, err := h.exams.CreateTest(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": i18n.T(r.Context(), "TestCreated"), "test": t})
}

type generateRequest struct {
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	NumQuestions  int                  `json:"num_questions"`
	QuestionTypes []model.QuestionType `json:"question_types"`
	SubjectArea   string               `json:"subject_area"`
	TimeLimit     int                  `json:"time_limit"`
	CreatedBy     string               `json:"created_by"`
}

func (h *Handler) handleGenerateTest(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.QuestionTypes != nil && len(req.QuestionTypes) == 0 {
		writeError(w, &model.ValidationError{Field: "question_types", Reason: "must be a non-empty list"})
		return
	}
	t, err := h.exams.GenerateTest(r.Context(), generate.Request{
		Topic:        req.Title,
		Description:  req.Description,
		Count:        req.NumQuestions,
		AllowedTypes: req.QuestionTypes,
		SubjectArea:  req.SubjectArea,
		TimeLimit:    req.TimeLimit,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": i18n.Tp(r.Context(), "QuestionsGenerated", len(t.Questions)),
		"test":    t,
	})
}

func (h *Handler) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.exams.ListTests(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}

func (h *Handler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	tests, err := h.exams.ListAvailable(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}

func (h *Handler) handleTeacherTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.exams.ListByTeacher(r.Context(), chi.URLParam(r, "teacherID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}

func (h *Handler) handleGetTest(w http.ResponseWriter, r *http.Request) {
	t, err := h.exams.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"test": t})
}

func (h *Handler) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	var upd exam.TestUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	t, err := h.exams.UpdateTest(r.Context(), chi.URLParam(r, "testID"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": i18n.T(r.Context(), "TestUpdated"), "test": t})
}

func (h *Handler) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	if err := h.exams.DeleteTest(r.Context(), chi.URLParam(r, "testID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": i18n.T(r.Context(), "TestDeleted")})
}

func (h *Handler) handleExportTest(w http.ResponseWriter, r *http.Request) {
	exp, err := h.exams.Export(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StudentID string `json:"student_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	a, t, err := h.exams.StartAttempt(r.Context(), chi.URLParam(r, "testID"), req.StudentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": i18n.T(r.Context(), "TestStarted"),
		"attempt": a,
		"test":    t,
	})
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers []model.Answer `json:"answers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	a, err := h.exams.SubmitAttempt(r.Context(), chi.URLParam(r, "attemptID"), req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": i18n.T(r.Context(), "TestSubmitted"), "attempt": a})
}

func (h *Handler) handleStudentAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.exams.ListStudentAttempts(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// decodeBody reads a JSON body into v, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return true
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve *model.ValidationError
		ge *generate.GenerationError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exam.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, exam.ErrAttemptCompleted):
		status = http.StatusConflict
	case errors.As(err, &ge):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	} else {
		slog.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
