package grading

import (
	"context"
	"log/slog"

	"github.com/pavelanni/examforge/internal/model"
)

// AnswerEvaluator grades one answer.
type AnswerEvaluator interface {
	Evaluate(ctx context.Context, q model.Question, answer model.Answer) Grade
}

// Result is a graded submission. QuestionScores and Feedback hold one entry
// per answered question, index-aligned with the test's questions.
type Result struct {
	QuestionScores []float64
	Feedback       []string
	Earned         float64
	Possible       float64
	Overall        float64 // percentage, 0-100
}

// Scorer grades whole submissions.
type Scorer struct {
	eval AnswerEvaluator
}

func NewScorer(eval AnswerEvaluator) *Scorer {
	return &Scorer{eval: eval}
}

// Score grades answers against test's questions index by index. Only
// aligned pairs count: answers beyond the last question and questions beyond
// the last answer are left out of the totals.
func (s *Scorer) Score(ctx context.Context, test model.Test, answers []model.Answer) Result {
	n := min(len(answers), len(test.Questions))
	if len(answers) > n {
		slog.Warn("dropping surplus answers", "test", test.ID, "answers", len(answers), "questions", len(test.Questions))
	}
	res := Result{
		QuestionScores: make([]float64, 0, n),
		Feedback:       make([]string, 0, n),
	}
	for i, q := range test.Questions[:n] {
		g := s.eval.Evaluate(ctx, q, answers[i])
		res.QuestionScores = append(res.QuestionScores, g.Score)
		res.Feedback = append(res.Feedback, g.Feedback)
		res.Earned += g.Score
		res.Possible += g.MaxScore
	}
	if res.Possible > 0 {
		res.Overall = 100 * res.Earned / res.Possible
	}
	return res
}
