// Package generate asks the LLM for question sets and turns the replies into
// stored tests.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/model"
)

// MaxCount is the largest number of questions one request may ask for.
const MaxCount = 50

// Request describes the test to generate.
type Request struct {
	Topic        string
	Description  string
	Count        int
	AllowedTypes []model.QuestionType
	SubjectArea  string
	TimeLimit    int
	CreatedBy    string
}

// Validate checks the request and fills defaults: both question types when
// none are given and the default time limit.
func (r *Request) Validate() error {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Topic == "" {
		return &model.ValidationError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(r.CreatedBy) == "" {
		return &model.ValidationError{Field: "created_by", Reason: "is required"}
	}
	if r.Count < 1 || r.Count > MaxCount {
		return &model.ValidationError{Field: "num_questions", Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxCount, r.Count)}
	}
	if len(r.AllowedTypes) == 0 {
		r.AllowedTypes = []model.QuestionType{model.TypeMCQ, model.TypeParagraph}
	}
	for i, t := range r.AllowedTypes {
		t = model.QuestionType(strings.ToLower(strings.TrimSpace(string(t))))
		if !t.Valid() {
			return &model.ValidationError{Field: "question_types", Reason: fmt.Sprintf("unknown question type %q", r.AllowedTypes[i])}
		}
		r.AllowedTypes[i] = t
	}
	if r.TimeLimit < 0 {
		return &model.ValidationError{Field: "time_limit", Reason: fmt.Sprintf("must be positive, got %d", r.TimeLimit)}
	}
	if r.TimeLimit == 0 {
		r.TimeLimit = model.DefaultTimeLimit
	}
	return nil
}

// Allows reports whether questions of type t were requested.
func (r Request) Allows(t model.QuestionType) bool {
	for _, a := range r.AllowedTypes {
		if a == t {
			return true
		}
	}
	return false
}

// ParagraphOnly reports whether only paragraph questions were requested.
func (r Request) ParagraphOnly() bool {
	return r.Allows(model.TypeParagraph) && !r.Allows(model.TypeMCQ)
}

// distribution splits Count between the requested types; with both types
// the mcq share is Count/2.
func (r Request) distribution() (mcq, paragraph int) {
	switch {
	case r.ParagraphOnly():
		return 0, r.Count
	case !r.Allows(model.TypeParagraph):
		return r.Count, 0
	}
	return r.Count / 2, r.Count - r.Count/2
}

// GenerationError means no usable test could be produced.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generate questions: " + e.Reason
	}
	return fmt.Sprintf("generate questions: %s: %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// TestSaver persists generated tests.
type TestSaver interface {
	CreateTest(ctx context.Context, t *model.Test) error
}

// Options tunes model call timeouts and pacing.
type Options struct {
	BulkTimeout      time.Duration // whole-set call, mcq only
	ParagraphTimeout time.Duration // whole-set call including paragraph items
	ItemTimeout      time.Duration // single-item call
	Pause            time.Duration // between consecutive single-item calls
}

// DefaultOptions returns the timeouts used when none are configured.
func DefaultOptions() Options {
	return Options{
		BulkTimeout:      60 * time.Second,
		ParagraphTimeout: 180 * time.Second,
		ItemTimeout:      45 * time.Second,
		Pause:            time.Second,
	}
}

type base struct {
	llm   llm.Completer
	saver TestSaver
	opts  Options
}

func (b base) save(ctx context.Context, req Request, questions []model.Question) (model.Test, error) {
	t := model.Test{
		Title:       req.Topic,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Questions:   questions,
		TimeLimit:   req.TimeLimit,
	}
	if err := t.Validate(); err != nil {
		return model.Test{}, err
	}
	if err := b.saver.CreateTest(ctx, &t); err != nil {
		return model.Test{}, fmt.Errorf("save generated test: %w", err)
	}
	slog.Info("generated test stored", "id", t.ID, "title", t.Title, "questions", len(t.Questions))
	return t, nil
}

// pause waits d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
