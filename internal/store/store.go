// Package store is the typed repository for tests, attempts and import
// records on top of a document store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/examforge/internal/docstore"
	"github.com/pavelanni/examforge/internal/model"
)

// Collection names.
const (
	CollTests    = "tests"
	CollAttempts = "test_attempts"
	CollImports  = "imports"
)

// ErrNotFound is returned when a test, attempt or import record is missing.
var ErrNotFound = docstore.ErrNotFound

type Store struct {
	docs docstore.Store
	now  func() time.Time
}

func New(docs docstore.Store) *Store {
	return &Store{docs: docs, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Close() error {
	return s.docs.Close()
}

// CreateTest stores t and fills its id and timestamps.
func (s *Store) CreateTest(ctx context.Context, t *model.Test) error {
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	doc := *t
	doc.ID = ""
	id, err := s.docs.Create(ctx, CollTests, doc)
	if err != nil {
		return fmt.Errorf("create test: %w", err)
	}
	t.ID = id
	return nil
}

func (s *Store) GetTest(ctx context.Context, id string) (model.Test, error) {
	d, err := s.docs.Get(ctx, CollTests, id)
	if err != nil {
		return model.Test{}, fmt.Errorf("get test %s: %w", id, err)
	}
	return decodeTest(d)
}

// ListTests returns every test in creation order.
func (s *Store) ListTests(ctx context.Context) ([]model.Test, error) {
	return s.findTests(ctx, nil)
}

// ListTestsByTeacher returns the tests created by teacherID.
func (s *Store) ListTestsByTeacher(ctx context.Context, teacherID string) ([]model.Test, error) {
	return s.findTests(ctx, docstore.Filter{"created_by": teacherID})
}

func (s *Store) findTests(ctx context.Context, f docstore.Filter) ([]model.Test, error) {
	docs, err := s.docs.Find(ctx, CollTests, f)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	tests := make([]model.Test, 0, len(docs))
	for _, d := range docs {
		t, err := decodeTest(d)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, nil
}

// UpdateTest replaces the mutable fields of the stored test with t's.
// The id, creator and creation time are left alone.
func (s *Store) UpdateTest(ctx context.Context, t *model.Test) error {
	t.UpdatedAt = s.now()
	err := s.docs.Update(ctx, CollTests, t.ID, map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"questions":   t.Questions,
		"time_limit":  t.TimeLimit,
		"updated_at":  t.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update test %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) DeleteTest(ctx context.Context, id string) error {
	if err := s.docs.Delete(ctx, CollTests, id); err != nil {
		return fmt.Errorf("delete test %s: %w", id, err)
	}
	return nil
}

// CreateAttempt stores a fresh attempt and fills its id.
func (s *Store) CreateAttempt(ctx context.Context, a *model.TestAttempt) error {
	if a.StartedAt.IsZero() {
		a.StartedAt = s.now()
	}
	if a.Answers == nil {
		a.Answers = []model.Answer{}
	}
	if a.QuestionScores == nil {
		a.QuestionScores = []float64{}
	}
	if a.Feedback == nil {
		a.Feedback = []string{}
	}
	doc := *a
	doc.ID = ""
	id, err := s.docs.Create(ctx, CollAttempts, doc)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	a.ID = id
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, id string) (model.TestAttempt, error) {
	d, err := s.docs.Get(ctx, CollAttempts, id)
	if err != nil {
		return model.TestAttempt{}, fmt.Errorf("get attempt %s: %w", id, err)
	}
	return decodeAttempt(d)
}

// ListAttemptsByStudent returns studentID's attempts in start order.
func (s *Store) ListAttemptsByStudent(ctx context.Context, studentID string) ([]model.TestAttempt, error) {
	return s.findAttempts(ctx, docstore.Filter{"student_id": studentID})
}

// ListAttemptsByTest returns every attempt at testID in start order.
func (s *Store) ListAttemptsByTest(ctx context.Context, testID string) ([]model.TestAttempt, error) {
	return s.findAttempts(ctx, docstore.Filter{"test_id": testID})
}

func (s *Store) findAttempts(ctx context.Context, f docstore.Filter) ([]model.TestAttempt, error) {
	docs, err := s.docs.Find(ctx, CollAttempts, f)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	attempts := make([]model.TestAttempt, 0, len(docs))
	for _, d := range docs {
		a, err := decodeAttempt(d)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// CompleteAttempt writes the graded result and marks the attempt completed,
// but only if it is not completed yet. It reports whether this call did the
// transition.
func (s *Store) CompleteAttempt(ctx context.Context, a *model.TestAttempt) (bool, error) {
	completedAt := s.now()
	ok, err := s.docs.UpdateIf(ctx, CollAttempts, a.ID,
		docstore.Filter{"is_completed": false},
		map[string]any{
			"answers":         a.Answers,
			"question_scores": a.QuestionScores,
			"feedback":        a.Feedback,
			"score":           a.Score,
			"is_completed":    true,
			"completed_at":    completedAt,
		},
	)
	if err != nil {
		return false, fmt.Errorf("complete attempt %s: %w", a.ID, err)
	}
	if ok {
		a.IsCompleted = true
		a.CompletedAt = &completedAt
	}
	return ok, nil
}

func decodeTest(d docstore.Document) (model.Test, error) {
	var t model.Test
	if err := json.Unmarshal(d.Body, &t); err != nil {
		return model.Test{}, fmt.Errorf("decode test %s: %w", d.ID, err)
	}
	t.ID = d.ID
	return t, nil
}

func decodeAttempt(d docstore.Document) (model.TestAttempt, error) {
	var a model.TestAttempt
	if err := json.Unmarshal(d.Body, &a); err != nil {
		return model.TestAttempt{}, fmt.Errorf("decode attempt %s: %w", d.ID, err)
	}
	a.ID = d.ID
	return a, nil
}
