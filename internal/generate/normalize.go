package generate

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pavelanni/examforge/internal/model"
)

// items turns an extracted array (or bare object) into raw item objects.
// A wrapper object holding an array of objects, such as
// {"questions": [...]}, is unwrapped; any other bare object is one item.
func items(raw json.RawMessage) []map[string]json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}
		if inner, ok := wrapped(obj); ok {
			return inner
		}
		return []map[string]json.RawMessage{obj}
	}
	var list []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		slog.Debug("generated items are not objects", "error", err)
		return nil
	}
	return list
}

// wrapped looks under "questions" first, then the other keys in sorted order.
func wrapped(obj map[string]json.RawMessage) ([]map[string]json.RawMessage, bool) {
	if _, isItem := obj["text"]; isItem {
		return nil, false
	}
	keys := slices.Sorted(maps.Keys(obj))
	if i := slices.Index(keys, "questions"); i > 0 {
		keys = slices.Insert(slices.Delete(keys, i, i+1), 0, "questions")
	}
	for _, k := range keys {
		var inner []map[string]json.RawMessage
		if err := json.Unmarshal(obj[k], &inner); err == nil && len(inner) > 0 {
			return inner, true
		}
	}
	return nil, false
}

// itemType reads the declared type, defaulting to mcq.
func itemType(item map[string]json.RawMessage) model.QuestionType {
	var s string
	if raw, ok := item["type"]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "mcq", "multiple_choice", "multiple-choice":
		return model.TypeMCQ
	case "paragraph", "essay", "open":
		return model.TypeParagraph
	}
	return model.QuestionType(s)
}

// coerceCorrectAnswer rewrites a letter ("B", "b)"), numeric string or
// option-text correct_answer into an option index. Values it cannot map
// are left for validation to reject.
func coerceCorrectAnswer(item map[string]json.RawMessage) {
	raw, ok := item["correct_answer"]
	if !ok {
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return
	}
	var options []string
	_ = json.Unmarshal(item["options"], &options)

	idx, ok := answerIndex(s, options)
	if !ok {
		return
	}
	item["correct_answer"] = json.RawMessage(strconv.Itoa(idx))
}

func answerIndex(s string, options []string) (int, bool) {
	s = strings.TrimSpace(s)
	for i, opt := range options {
		if strings.EqualFold(strings.TrimSpace(opt), s) {
			return i, true
		}
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	letter := strings.TrimRight(s, ").:")
	if len(letter) == 1 {
		c := letter[0] | 0x20 // lower-case ASCII letters
		if c >= 'a' && c <= 'z' && int(c-'a') < len(options) {
			return int(c - 'a'), true
		}
	}
	return 0, false
}

// forceMCQ makes item a multiple-choice question, dropping paragraph fields.
func forceMCQ(item map[string]json.RawMessage) {
	item["type"] = json.RawMessage(`"mcq"`)
	delete(item, "model_answer")
	delete(item, "keywords")
	delete(item, "max_score")
}

// forceParagraph makes item a paragraph question, dropping mcq fields.
func forceParagraph(item map[string]json.RawMessage) {
	item["type"] = json.RawMessage(`"paragraph"`)
	delete(item, "options")
	delete(item, "correct_answer")
}

// decodeItem validates one normalized item.
func decodeItem(item map[string]json.RawMessage) (model.Question, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return model.Question{}, err
	}
	var q model.Question
	if err := json.Unmarshal(b, &q); err != nil {
		return model.Question{}, err
	}
	return q, nil
}

// normalize keeps the usable items of an extracted batch, at most
// req.Count of them.
func normalize(raw json.RawMessage, req Request) []model.Question {
	list := items(raw)
	questions := make([]model.Question, 0, len(list))
	for i, item := range list {
		typ := itemType(item)
		if !req.Allows(typ) {
			slog.Warn("discarding generated item of unrequested type", "index", i, "type", typ)
			continue
		}
		if typ == model.TypeMCQ {
			forceMCQ(item)
			coerceCorrectAnswer(item)
		} else {
			forceParagraph(item)
		}
		q, err := decodeItem(item)
		if err != nil {
			slog.Warn("discarding invalid generated item", "index", i, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) > req.Count {
		slog.Info("trimming surplus generated items", "got", len(questions), "want", req.Count)
		questions = questions[:req.Count]
	}
	return questions
}
