package model

import (
	"strings"
	"time"
)

// PublicQuestion is a question as shown to students: no answer key.
type PublicQuestion struct {
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	MaxScore float64      `json:"max_score"`
}

// PublicTest is a test with correct answers, model answers and keywords
// stripped.
type PublicTest struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	CreatedBy   string           `json:"created_by"`
	Questions   []PublicQuestion `json:"questions"`
	TimeLimit   int              `json:"time_limit"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Public returns the student view of t.
func (t Test) Public() PublicTest {
	qs := make([]PublicQuestion, 0, len(t.Questions))
	for _, q := range t.Questions {
		pq := PublicQuestion{Text: q.Text, Type: q.Type, MaxScore: q.MaxPoints()}
		if q.Choice != nil {
			pq.Options = q.Choice.Options
		}
		qs = append(qs, pq)
	}
	return PublicTest{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		CreatedBy:   t.CreatedBy,
		Questions:   qs,
		TimeLimit:   t.TimeLimit,
		CreatedAt:   t.CreatedAt,
	}
}

// Validate checks the test header fields and fills the time limit default.
// Questions are validated when decoded.
func (t *Test) Validate() error {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return invalid("title", "is required")
	}
	if strings.TrimSpace(t.CreatedBy) == "" {
		return invalid("created_by", "is required")
	}
	if t.TimeLimit == 0 {
		t.TimeLimit = DefaultTimeLimit
	}
	if t.TimeLimit < 0 {
		return invalid("time_limit", "must be positive, got %d", t.TimeLimit)
	}
	if len(t.Questions) == 0 {
		return invalid("questions", "must be a non-empty list")
	}
	return nil
}

// TotalPoints is the maximum score over all questions.
func (t Test) TotalPoints() float64 {
	var total float64
	for _, q := range t.Questions {
		total += q.MaxPoints()
	}
	return total
}
