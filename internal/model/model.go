package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// QuestionType tags the variant of a Question.
type QuestionType string

const (
	// TypeMCQ is a multiple-choice question graded against one option index.
	TypeMCQ QuestionType = "mcq"
	// TypeParagraph is a free-text question graded by the LLM.
	TypeParagraph QuestionType = "paragraph"
)

// DefaultMaxScore is the max score of a paragraph question that does not set one.
const DefaultMaxScore = 10.0

// DefaultTimeLimit is the test time limit in minutes when none is given.
const DefaultTimeLimit = 60

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == TypeMCQ || t == TypeParagraph
}

// ChoiceSpec holds the mcq-only fields.
type ChoiceSpec struct {
	Options       []string
	CorrectAnswer int
}

// EssaySpec holds the paragraph-only fields.
type EssaySpec struct {
	ModelAnswer string
	Keywords    []string
	MaxScore    float64
}

// Question is one exam question. Exactly one of Choice and Essay is set,
// matching Type.
type Question struct {
	Text   string
	Type   QuestionType
	Choice *ChoiceSpec
	Essay  *EssaySpec
}

// MaxPoints is the most a student can earn on the question.
func (q Question) MaxPoints() float64 {
	if q.Type == TypeParagraph && q.Essay != nil {
		return q.Essay.MaxScore
	}
	return 1
}

// Test is a titled, ordered set of questions.
type Test struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CreatedBy   string     `json:"created_by"`
	Questions   []Question `json:"questions"`
	TimeLimit   int        `json:"time_limit"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TestAttempt is one student's run through a test.
type TestAttempt struct {
	ID             string     `json:"id,omitempty"`
	TestID         string     `json:"test_id"`
	StudentID      string     `json:"student_id"`
	Answers        []Answer   `json:"answers"`
	QuestionScores []float64  `json:"question_scores"`
	Feedback       []string   `json:"feedback"`
	Score          float64    `json:"score"`
	IsCompleted    bool       `json:"is_completed"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// Answer is a student's raw answer to one question: an option index for mcq,
// free text for paragraph questions.
type Answer struct {
	raw json.RawMessage
}

// ChoiceAnswer builds an mcq answer.
func ChoiceAnswer(i int) Answer {
	return Answer{raw: json.RawMessage(strconv.Itoa(i))}
}

// TextAnswer builds a paragraph answer.
func TextAnswer(s string) Answer {
	b, _ := json.Marshal(s)
	return Answer{raw: b}
}

// UnmarshalJSON keeps the raw value; interpretation depends on the question.
func (a *Answer) UnmarshalJSON(b []byte) error {
	a.raw = append(a.raw[:0], b...)
	return nil
}

// MarshalJSON writes the raw value back, or null when empty.
func (a Answer) MarshalJSON() ([]byte, error) {
	if len(a.raw) == 0 {
		return []byte("null"), nil
	}
	return a.raw, nil
}

// Choice returns the answer as an option index. Integral JSON numbers and
// numeric strings are accepted.
func (a Answer) Choice() (int, bool) {
	if len(a.raw) == 0 {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(a.raw, &n); err == nil {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == float64(int(f)) {
			return int(f), true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(a.raw, &s); err == nil {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Text returns the answer as free text. Non-string values are rendered as
// their JSON text; null and missing answers are empty.
func (a Answer) Text() string {
	if len(a.raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.raw, &s); err == nil {
		return s
	}
	if string(a.raw) == "null" {
		return ""
	}
	return string(a.raw)
}

// String implements fmt.Stringer for logging.
func (a Answer) String() string {
	return string(a.raw)
}
