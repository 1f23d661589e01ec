// Package grading scores submitted answers: mcq answers deterministically,
// paragraph answers with the LLM.
package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/examforge/internal/extract"
	"github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/model"
)

const maxErrorRunes = 100

// Grade is the result of evaluating one answer.
type Grade struct {
	Score    float64
	MaxScore float64
	Feedback string
}

// Evaluator grades single answers.
type Evaluator struct {
	llm     llm.Completer
	timeout time.Duration
}

func NewEvaluator(c llm.Completer, timeout time.Duration) *Evaluator {
	return &Evaluator{llm: c, timeout: timeout}
}

// Evaluate grades answer against q. It never fails: any problem with the
// model call yields a zero score with the error in the feedback.
func (e *Evaluator) Evaluate(ctx context.Context, q model.Question, answer model.Answer) Grade {
	if q.Type == model.TypeParagraph && q.Essay != nil {
		return e.evaluateParagraph(ctx, q, answer)
	}
	return evaluateChoice(ctx, q, answer)
}

func evaluateChoice(ctx context.Context, q model.Question, answer model.Answer) Grade {
	g := Grade{MaxScore: q.MaxPoints(), Feedback: i18n.T(ctx, "Incorrect")}
	if q.Choice == nil {
		return g
	}
	if i, ok := answer.Choice(); ok && i == q.Choice.CorrectAnswer {
		g.Score = 1
		g.Feedback = i18n.T(ctx, "Correct")
	}
	return g
}

// gradeReply is the JSON the model is asked to return.
type gradeReply struct {
	Score    json.RawMessage `json:"score"`
	Feedback string          `json:"feedback"`
}

func (e *Evaluator) evaluateParagraph(ctx context.Context, q model.Question, answer model.Answer) Grade {
	maxScore := q.Essay.MaxScore
	text := answer.Text()
	if strings.TrimSpace(text) == "" {
		return Grade{MaxScore: maxScore, Feedback: i18n.T(ctx, "NoAnswerProvided")}
	}

	score, feedback, err := e.ask(ctx, q, text)
	if err != nil {
		slog.Warn("answer evaluation failed", "question", q.Text, "error", err)
		return Grade{
			MaxScore: maxScore,
			Feedback: i18n.Td(ctx, "EvaluationError", map[string]any{"Error": truncate(err.Error(), maxErrorRunes)}),
		}
	}
	return Grade{Score: clamp(score, 0, maxScore), MaxScore: maxScore, Feedback: feedback}
}

func (e *Evaluator) ask(ctx context.Context, q model.Question, answer string) (float64, string, error) {
	rendered, err := prompts.Eval(prompts.EvalData{
		QuestionText: q.Text,
		ModelAnswer:  q.Essay.ModelAnswer,
		Keywords:     q.Essay.Keywords,
		MaxScore:     q.Essay.MaxScore,
		Answer:       answer,
	})
	if err != nil {
		return 0, "", fmt.Errorf("render evaluation prompt: %w", err)
	}
	raw, err := e.llm.Complete(ctx, rendered.Prompt, rendered.Instructions, e.timeout)
	if err != nil {
		return 0, "", err
	}
	obj, err := extract.Extract(raw, extract.SingleObject)
	if err != nil {
		return 0, "", err
	}
	var reply gradeReply
	if err := json.Unmarshal(obj, &reply); err != nil {
		return 0, "", fmt.Errorf("decode grade: %w", err)
	}
	score := coerceScore(reply.Score)
	slog.Debug("answer evaluated", "question", q.Text, "score", score, "max_score", q.Essay.MaxScore)
	return score, reply.Feedback, nil
}

// coerceScore reads a JSON number or numeric string; anything else is 0.
func coerceScore(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if before, _, found := strings.Cut(s, "/"); found {
			s = strings.TrimSpace(before)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
