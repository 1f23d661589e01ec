package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pavelanni/examforge/internal/model"
)

// ExportTest builds the export of one test with every attempt at it.
func (s *Store) ExportTest(ctx context.Context, testID string) (model.TestExport, error) {
	t, err := s.GetTest(ctx, testID)
	if err != nil {
		return model.TestExport{}, err
	}
	attempts, err := s.ListAttemptsByTest(ctx, testID)
	if err != nil {
		return model.TestExport{}, fmt.Errorf("list attempts: %w", err)
	}

	results := make([]model.AttemptResult, 0, len(attempts))
	for _, a := range attempts {
		questions := make([]model.QuestionResult, 0, len(t.Questions))
		for i, q := range t.Questions {
			qr := model.QuestionResult{
				Text:     q.Text,
				Type:     q.Type,
				MaxScore: q.MaxPoints(),
			}
			if i < len(a.Answers) {
				qr.Answer = a.Answers[i]
			}
			if i < len(a.QuestionScores) {
				qr.Score = a.QuestionScores[i]
			}
			if i < len(a.Feedback) {
				qr.Feedback = a.Feedback[i]
			}
			questions = append(questions, qr)
		}
		results = append(results, model.AttemptResult{
			AttemptID:   a.ID,
			StudentID:   a.StudentID,
			Completed:   a.IsCompleted,
			StartedAt:   a.StartedAt,
			CompletedAt: a.CompletedAt,
			Questions:   questions,
			Score:       a.Score,
		})
	}

	return model.TestExport{
		Test:         t,
		NumQuestions: len(t.Questions),
		TotalPoints:  t.TotalPoints(),
		Results:      results,
	}, nil
}

// ListAttemptSummaries returns studentID's attempts, each with the header of
// its test. Attempts whose test was deleted carry no header.
func (s *Store) ListAttemptSummaries(ctx context.Context, studentID string) ([]model.AttemptSummary, error) {
	attempts, err := s.ListAttemptsByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	headers := make(map[string]*model.TestHeader)
	out := make([]model.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		h, seen := headers[a.TestID]
		if !seen {
			t, err := s.GetTest(ctx, a.TestID)
			switch {
			case err == nil:
				h = &model.TestHeader{Title: t.Title, Description: t.Description, TimeLimit: t.TimeLimit}
			case errors.Is(err, ErrNotFound):
			default:
				return nil, err
			}
			headers[a.TestID] = h
		}
		out = append(out, model.AttemptSummary{TestAttempt: a, Test: h})
	}
	return out, nil
}
