package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxDerivedKeywords = 8
	minKeywordRunes    = 6
)

// ValidationError reports caller-supplied data that fails schema checks.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// questionWire is the loosely typed storage and API shape of a Question.
type questionWire struct {
	Text          string       `json:"text"`
	Type          QuestionType `json:"type,omitempty"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer *int         `json:"correct_answer,omitempty"`
	ModelAnswer   *string      `json:"model_answer,omitempty"`
	Keywords      []string     `json:"keywords,omitempty"`
	MaxScore      *float64     `json:"max_score,omitempty"`
}

// MarshalJSON flattens the variant into the wire shape.
func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{Text: q.Text, Type: q.Type}
	switch q.Type {
	case TypeMCQ:
		if q.Choice == nil {
			return nil, fmt.Errorf("mcq question %q has no options", q.Text)
		}
		answer := q.Choice.CorrectAnswer
		w.Options = q.Choice.Options
		w.CorrectAnswer = &answer
	case TypeParagraph:
		if q.Essay == nil {
			return nil, fmt.Errorf("paragraph question %q has no model answer", q.Text)
		}
		modelAnswer, maxScore := q.Essay.ModelAnswer, q.Essay.MaxScore
		w.ModelAnswer = &modelAnswer
		w.Keywords = q.Essay.Keywords
		if w.Keywords == nil {
			w.Keywords = []string{}
		}
		w.MaxScore = &maxScore
	default:
		return nil, fmt.Errorf("unknown question type %q", q.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates the wire shape. Absent type defaults to
// mcq; absent paragraph keywords are derived from the model answer and an
// absent max score defaults to DefaultMaxScore.
func (q *Question) UnmarshalJSON(b []byte) error {
	var w questionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return &ValidationError{Reason: "malformed question: " + err.Error()}
	}
	decoded, err := w.decode()
	if err != nil {
		return err
	}
	*q = decoded
	return nil
}

func (w questionWire) decode() (Question, error) {
	text := strings.TrimSpace(w.Text)
	if text == "" {
		return Question{}, invalid("text", "is required")
	}
	typ := QuestionType(strings.ToLower(strings.TrimSpace(string(w.Type))))
	if typ == "" {
		typ = TypeMCQ
	}

	switch typ {
	case TypeMCQ:
		if w.ModelAnswer != nil || w.Keywords != nil || w.MaxScore != nil {
			return Question{}, invalid("type", "mcq question carries paragraph fields")
		}
		if len(w.Options) < 2 {
			return Question{}, invalid("options", "mcq question needs at least 2 options, got %d", len(w.Options))
		}
		if w.CorrectAnswer == nil {
			return Question{}, invalid("correct_answer", "is required")
		}
		if *w.CorrectAnswer < 0 || *w.CorrectAnswer >= len(w.Options) {
			return Question{}, invalid("correct_answer", "index %d out of range [0, %d)", *w.CorrectAnswer, len(w.Options))
		}
		return Question{
			Text: text,
			Type: TypeMCQ,
			Choice: &ChoiceSpec{
				Options:       w.Options,
				CorrectAnswer: *w.CorrectAnswer,
			},
		}, nil

	case TypeParagraph:
		if len(w.Options) > 0 || w.CorrectAnswer != nil {
			return Question{}, invalid("type", "paragraph question carries mcq fields")
		}
		if w.ModelAnswer == nil || strings.TrimSpace(*w.ModelAnswer) == "" {
			return Question{}, invalid("model_answer", "is required")
		}
		maxScore := DefaultMaxScore
		if w.MaxScore != nil {
			maxScore = *w.MaxScore
		}
		if maxScore <= 0 {
			return Question{}, invalid("max_score", "must be positive, got %g", maxScore)
		}
		keywords := w.Keywords
		if len(keywords) == 0 {
			keywords = DeriveKeywords(*w.ModelAnswer)
		}
		return Question{
			Text: text,
			Type: TypeParagraph,
			Essay: &EssaySpec{
				ModelAnswer: strings.TrimSpace(*w.ModelAnswer),
				Keywords:    keywords,
				MaxScore:    maxScore,
			},
		}, nil
	}
	return Question{}, invalid("type", "unknown question type %q", w.Type)
}

// DecodeQuestions decodes raw questions, naming the failing index.
func DecodeQuestions(raw []json.RawMessage) ([]Question, error) {
	if len(raw) == 0 {
		return nil, invalid("questions", "must be a non-empty list")
	}
	questions := make([]Question, 0, len(raw))
	for i, r := range raw {
		var q Question
		if err := json.Unmarshal(r, &q); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				field := fmt.Sprintf("questions[%d]", i)
				if ve.Field != "" {
					field += "." + ve.Field
				}
				return nil, &ValidationError{Field: field, Reason: ve.Reason}
			}
			return nil, invalid(fmt.Sprintf("questions[%d]", i), "%v", err)
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// DeriveKeywords picks up to 8 unique words longer than 5 characters from
// text, lower-cased with punctuation removed, in first-seen order.
func DeriveKeywords(text string) []string {
	seen := make(map[string]bool)
	keywords := []string{}
	for _, field := range strings.Fields(strings.ToLower(text)) {
		word := strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				return -1
			}
			return r
		}, field)
		if utf8.RuneCountInString(word) < minKeywordRunes || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == maxDerivedKeywords {
			break
		}
	}
	return keywords
}
