package model

import "time"

// TestExport is the top-level JSON structure for a test result export.
type TestExport struct {
	Test         Test            `json:"test"`
	NumQuestions int             `json:"num_questions"`
	TotalPoints  float64         `json:"total_points"`
	Results      []AttemptResult `json:"results"`
}

// AttemptResult holds one attempt's data for export.
type AttemptResult struct {
	AttemptID   string           `json:"attempt_id"`
	StudentID   string           `json:"student_id"`
	Completed   bool             `json:"completed"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Questions   []QuestionResult `json:"questions"`
	Score       float64          `json:"score"`
}

// QuestionResult holds per-question data for export.
type QuestionResult struct {
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	MaxScore float64      `json:"max_score"`
	Answer   Answer       `json:"answer"`
	Score    float64      `json:"score"`
	Feedback string       `json:"feedback"`
}

// AttemptSummary is an attempt with its test's header, as listed for a student.
type AttemptSummary struct {
	TestAttempt
	Test *TestHeader `json:"test,omitempty"`
}

// TestHeader is the part of a test shown next to an attempt.
type TestHeader struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TimeLimit   int    `json:"time_limit"`
}
