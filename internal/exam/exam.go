// Package exam ties generation, storage and grading together: it owns the
// test lifecycle and the attempt state machine.
package exam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examforge/internal/generate"
	"github.com/pavelanni/examforge/internal/grading"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/store"
)

var (
	// ErrAttemptCompleted is returned when an attempt is submitted twice.
	ErrAttemptCompleted = errors.New("test attempt already completed")
	// ErrForbidden is returned when someone other than the creator edits a test.
	ErrForbidden = errors.New("only the creator may modify this test")
)

// Options configures the LLM-backed parts of the service.
type Options struct {
	Generate    generate.Options
	EvalTimeout time.Duration
}

// DefaultOptions returns the default timeouts and pacing.
func DefaultOptions() Options {
	return Options{Generate: generate.DefaultOptions(), EvalTimeout: 60 * time.Second}
}

// Service is the exam workflow over one store and one LLM.
type Service struct {
	store  *store.Store
	bulk   *generate.Synthesizer
	staged *generate.Staged
	scorer *grading.Scorer
}

func New(st *store.Store, c llm.Completer, opts Options) *Service {
	return &Service{
		store:  st,
		bulk:   generate.NewSynthesizer(c, st, opts.Generate),
		staged: generate.NewStaged(c, st, opts.Generate),
		scorer: grading.NewScorer(grading.NewEvaluator(c, opts.EvalTimeout)),
	}
}

// TestInput is a manually written test as received from a caller.
type TestInput struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	CreatedBy   string            `json:"created_by"`
	TimeLimit   int               `json:"time_limit"`
	Questions   []json.RawMessage `json:"questions"`
}

func (in TestInput) build() (model.Test, error) {
	questions, err := model.DecodeQuestions(in.Questions)
	if err != nil {
		return model.Test{}, err
	}
	t := model.Test{
		Title:       in.Title,
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
		TimeLimit:   in.TimeLimit,
		Questions:   questions,
	}
	if err := t.Validate(); err != nil {
		return model.Test{}, err
	}
	return t, nil
}

// CreateTest validates and stores a manually written test.
func (s *Service) CreateTest(ctx context.Context, in TestInput) (model.Test, error) {
	t, err := in.build()
	if err != nil {
		return model.Test{}, err
	}
	if err := s.store.CreateTest(ctx, &t); err != nil {
		return model.Test{}, err
	}
	slog.Info("test created", "id", t.ID, "questions", len(t.Questions), "created_by", t.CreatedBy)
	return t, nil
}

// GenerateTest asks the LLM for a test. Paragraph-only requests go through
// the staged per-question path; everything else is one bulk request.
func (s *Service) GenerateTest(ctx context.Context, req generate.Request) (model.Test, error) {
	if err := req.Validate(); err != nil {
		return model.Test{}, err
	}
	if req.ParagraphOnly() {
		slog.Info("generating test in stages", "topic", req.Topic, "count", req.Count)
		return s.staged.Synthesize(ctx, req)
	}
	slog.Info("generating test", "topic", req.Topic, "count", req.Count, "types", req.AllowedTypes)
	return s.bulk.SynthesizeBulk(ctx, req)
}

func (s *Service) GetTest(ctx context.Context, id string) (model.Test, error) {
	return s.store.GetTest(ctx, id)
}

// ListTests returns every test with answer keys.
func (s *Service) ListTests(ctx context.Context) ([]model.Test, error) {
	return s.store.ListTests(ctx)
}

// ListAvailable returns every test as students see it.
func (s *Service) ListAvailable(ctx context.Context) ([]model.PublicTest, error) {
	tests, err := s.store.ListTests(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.PublicTest, 0, len(tests))
	for _, t := range tests {
		out = append(out, t.Public())
	}
	return out, nil
}

func (s *Service) ListByTeacher(ctx context.Context, teacherID string) ([]model.Test, error) {
	return s.store.ListTestsByTeacher(ctx, teacherID)
}

// TestUpdate carries the fields of a test edit. Zero fields are left alone.
type TestUpdate struct {
	Title       string            `json:"title"`
	Description *string           `json:"description"`
	TimeLimit   int               `json:"time_limit"`
	Questions   []json.RawMessage `json:"questions"`
	// RequestedBy must match the test's creator.
	RequestedBy string `json:"created_by"`
}

// UpdateTest applies upd to the test id.
func (s *Service) UpdateTest(ctx context.Context, id string, upd TestUpdate) (model.Test, error) {
	if strings.TrimSpace(upd.RequestedBy) == "" {
		return model.Test{}, &model.ValidationError{Field: "created_by", Reason: "is required"}
	}
	t, err := s.store.GetTest(ctx, id)
	if err != nil {
		return model.Test{}, err
	}
	if t.CreatedBy != upd.RequestedBy {
		return model.Test{}, ErrForbidden
	}

	if upd.Title != "" {
		t.Title = upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.TimeLimit != 0 {
		t.TimeLimit = upd.TimeLimit
	}
	if upd.Questions != nil {
		questions, err := model.DecodeQuestions(upd.Questions)
		if err != nil {
			return model.Test{}, err
		}
		t.Questions = questions
	}
	if err := t.Validate(); err != nil {
		return model.Test{}, err
	}
	if err := s.store.UpdateTest(ctx, &t); err != nil {
		return model.Test{}, err
	}
	slog.Info("test updated", "id", t.ID)
	return t, nil
}

func (s *Service) DeleteTest(ctx context.Context, id string) error {
	if err := s.store.DeleteTest(ctx, id); err != nil {
		return err
	}
	slog.Info("test deleted", "id", id)
	return nil
}

// StartAttempt opens an attempt at testID for studentID and returns it with
// the student view of the test.
func (s *Service) StartAttempt(ctx context.Context, testID, studentID string) (model.TestAttempt, model.PublicTest, error) {
	if strings.TrimSpace(studentID) == "" {
		return model.TestAttempt{}, model.PublicTest{}, &model.ValidationError{Field: "student_id", Reason: "is required"}
	}
	t, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return model.TestAttempt{}, model.PublicTest{}, err
	}
	a := model.TestAttempt{TestID: t.ID, StudentID: studentID}
	if err := s.store.CreateAttempt(ctx, &a); err != nil {
		return model.TestAttempt{}, model.PublicTest{}, err
	}
	slog.Info("attempt started", "attempt", a.ID, "test", t.ID, "student", studentID)
	return a, t.Public(), nil
}

// SubmitAttempt grades answers and completes the attempt. An attempt can be
// submitted once; later submissions get ErrAttemptCompleted and change
// nothing.
func (s *Service) SubmitAttempt(ctx context.Context, attemptID string, answers []model.Answer) (model.TestAttempt, error) {
	if answers == nil {
		return model.TestAttempt{}, &model.ValidationError{Field: "answers", Reason: "are required"}
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return model.TestAttempt{}, err
	}
	if a.IsCompleted {
		return model.TestAttempt{}, ErrAttemptCompleted
	}
	t, err := s.store.GetTest(ctx, a.TestID)
	if err != nil {
		return model.TestAttempt{}, fmt.Errorf("test of attempt %s: %w", a.ID, err)
	}

	res := s.scorer.Score(ctx, t, answers)
	a.Answers = answers[:min(len(answers), len(t.Questions))]
	a.QuestionScores = res.QuestionScores
	a.Feedback = res.Feedback
	a.Score = res.Overall

	ok, err := s.store.CompleteAttempt(ctx, &a)
	if err != nil {
		return model.TestAttempt{}, err
	}
	if !ok {
		slog.Warn("attempt completed concurrently, discarding grade", "attempt", a.ID)
		return model.TestAttempt{}, ErrAttemptCompleted
	}
	slog.Info("attempt graded", "attempt", a.ID, "score", a.Score, "earned", res.Earned, "possible", res.Possible)
	return a, nil
}

// ListStudentAttempts returns studentID's attempts with their test headers.
func (s *Service) ListStudentAttempts(ctx context.Context, studentID string) ([]model.AttemptSummary, error) {
	return s.store.ListAttemptSummaries(ctx, studentID)
}

// Export returns testID with every attempt at it.
func (s *Service) Export(ctx context.Context, testID string) (model.TestExport, error) {
	return s.store.ExportTest(ctx, testID)
}
