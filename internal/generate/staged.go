package generate

import (
	"context"
	"log/slog"

	"github.com/pavelanni/examforge/internal/i18n"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/model"
)

// fallbackKeywords is the keyword set of every fallback question.
var fallbackKeywords = []string{"concept", "explanation", "example", "application"}

// Staged generates paragraph questions one model call at a time so that no
// single call has to produce long-form content for the whole set.
type Staged struct {
	base
}

func NewStaged(c llm.Completer, saver TestSaver, opts Options) *Staged {
	return &Staged{base{llm: c, saver: saver, opts: opts}}
}

// Synthesize makes exactly req.Count sequential single-item calls and stores
// a test of req.Count paragraph questions. Items the model fails to deliver
// are replaced by fallback questions.
func (s *Staged) Synthesize(ctx context.Context, req Request) (model.Test, error) {
	if err := req.Validate(); err != nil {
		return model.Test{}, err
	}
	slog.Info("generating questions one by one", "topic", req.Topic, "count", req.Count, "item_timeout", s.opts.ItemTimeout)

	questions := make([]model.Question, 0, req.Count)
	fallbacks := 0
	for i := 0; i < req.Count; i++ {
		if i > 0 {
			if err := pause(ctx, s.opts.Pause); err != nil {
				return model.Test{}, &GenerationError{Reason: "staged generation interrupted", Err: err}
			}
		}
		q, err := s.item(ctx, req, i+1)
		if err != nil {
			slog.Warn("item generation failed, using fallback", "item", i+1, "count", req.Count, "error", err)
			q = fallbackQuestion(ctx, req.Topic, i+1)
			fallbacks++
		}
		questions = append(questions, q)
	}
	if fallbacks > 0 {
		slog.Warn("staged generation degraded", "fallbacks", fallbacks, "count", req.Count)
	}

	return s.save(ctx, req, questions)
}

// fallbackQuestion is the deterministic stand-in for item n.
func fallbackQuestion(ctx context.Context, topic string, n int) model.Question {
	data := map[string]any{"Topic": topic, "Number": n}
	keywords := make([]string, len(fallbackKeywords))
	copy(keywords, fallbackKeywords)
	return model.Question{
		Text: i18n.Td(ctx, "FallbackQuestion", data),
		Type: model.TypeParagraph,
		Essay: &model.EssaySpec{
			ModelAnswer: i18n.Td(ctx, "FallbackModelAnswer", data),
			Keywords:    keywords,
			MaxScore:    model.DefaultMaxScore,
		},
	}
}
