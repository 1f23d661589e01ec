package generate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examforge/internal/extract"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/model"
)

// Synthesizer generates a whole question set with one model call.
type Synthesizer struct {
	base
}

func NewSynthesizer(c llm.Completer, saver TestSaver, opts Options) *Synthesizer {
	return &Synthesizer{base{llm: c, saver: saver, opts: opts}}
}

// SynthesizeBulk asks for all req.Count questions at once, keeps the valid
// ones and stores the test. A short paragraph-only batch is topped up with
// single-item calls.
func (s *Synthesizer) SynthesizeBulk(ctx context.Context, req Request) (model.Test, error) {
	if err := req.Validate(); err != nil {
		return model.Test{}, err
	}
	mcq, paragraph := req.distribution()
	rendered, err := prompts.Bulk(prompts.BulkData{
		Topic:          req.Topic,
		Description:    req.Description,
		SubjectArea:    req.SubjectArea,
		Count:          req.Count,
		MCQCount:       mcq,
		ParagraphCount: paragraph,
	})
	if err != nil {
		return model.Test{}, fmt.Errorf("render bulk prompt: %w", err)
	}

	timeout := s.opts.BulkTimeout
	if paragraph > 0 {
		timeout = s.opts.ParagraphTimeout
	}
	slog.Info("generating questions", "topic", req.Topic, "count", req.Count, "mcq", mcq, "paragraph", paragraph, "timeout", timeout)

	raw, err := s.llm.Complete(ctx, rendered.Prompt, rendered.Instructions, timeout)
	if err != nil {
		return model.Test{}, &GenerationError{Reason: "model call failed", Err: err}
	}
	arr, err := extract.Extract(raw, extract.ArrayOfObjects)
	if err != nil {
		return model.Test{}, &GenerationError{Reason: "unreadable model output", Err: err}
	}

	questions := normalize(arr, req)
	if len(questions) == 0 {
		return model.Test{}, &GenerationError{Reason: "model returned no usable questions"}
	}
	if len(questions) < req.Count {
		slog.Warn("model returned fewer questions than requested", "got", len(questions), "want", req.Count)
		if req.ParagraphOnly() {
			questions, err = s.topUp(ctx, req, questions)
			if err != nil {
				return model.Test{}, err
			}
		}
	}

	return s.save(ctx, req, questions)
}

// topUp requests each missing paragraph question on its own. Failed items
// are skipped.
func (s *Synthesizer) topUp(ctx context.Context, req Request, questions []model.Question) ([]model.Question, error) {
	have := len(questions)
	for k := 0; k < req.Count-have; k++ {
		if err := pause(ctx, s.opts.Pause); err != nil {
			return nil, &GenerationError{Reason: "top-up interrupted", Err: err}
		}
		n := have + k + 1
		q, err := s.item(ctx, req, n)
		if err != nil {
			slog.Warn("top-up item failed, skipping", "item", n, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	slog.Info("top-up finished", "have", len(questions), "want", req.Count)
	return questions, nil
}

// item asks for paragraph question n of req.Count.
func (b base) item(ctx context.Context, req Request, n int) (model.Question, error) {
	rendered, err := prompts.Item(prompts.ItemData{
		Topic:       req.Topic,
		Description: req.Description,
		SubjectArea: req.SubjectArea,
		Number:      n,
		Count:       req.Count,
	})
	if err != nil {
		return model.Question{}, fmt.Errorf("render item prompt: %w", err)
	}
	raw, err := b.llm.Complete(ctx, rendered.Prompt, rendered.Instructions, b.opts.ItemTimeout)
	if err != nil {
		return model.Question{}, err
	}

	obj, err := extract.Extract(raw, extract.SingleObject)
	if err != nil {
		// Some models answer a single-item request with a one-element array.
		arr, arrErr := extract.Extract(raw, extract.ArrayOfObjects)
		if arrErr != nil {
			return model.Question{}, err
		}
		obj = arr
	}
	list := items(obj)
	if len(list) == 0 {
		return model.Question{}, fmt.Errorf("empty item in model output")
	}
	item := list[0]
	forceParagraph(item)
	return decodeItem(item)
}
