// Package prompts renders the instruction and prompt texts sent to the LLM.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	maxAnswerRunes = 10000
	noAnswer       = "[No answer provided]"
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates *template.Template
)

// Rendered is a prompt with its instructions, sent as separate fields.
type Rendered struct {
	Prompt       string
	Instructions string
}

// BulkData holds template data for a whole-set generation request.
type BulkData struct {
	Topic          string
	Description    string
	SubjectArea    string
	Count          int
	MCQCount       int
	ParagraphCount int
}

// ItemData holds template data for one staged paragraph question.
type ItemData struct {
	Topic       string
	Description string
	SubjectArea string
	Number      int // 1-based
	Count       int
}

// EvalData holds template data for grading one paragraph answer.
type EvalData struct {
	QuestionText string
	ModelAnswer  string
	Keywords     []string
	MaxScore     float64
	Answer       string
}

// Load parses the embedded templates once.
func Load() error {
	loadOnce.Do(func() {
		templates, loadErr = template.New("prompts").
			Funcs(template.FuncMap{"join": strings.Join}).
			ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// Bulk renders the request for a complete question set.
func Bulk(d BulkData) (Rendered, error) {
	return render("bulk", d)
}

// Item renders the request for one staged paragraph question.
func Item(d ItemData) (Rendered, error) {
	return render("item", d)
}

// Eval renders the grading request for one paragraph answer. The answer is
// sanitized before it is placed in the prompt.
func Eval(d EvalData) (Rendered, error) {
	d.Answer = SanitizeAnswer(d.Answer)
	return render("eval", d)
}

func render(name string, data any) (Rendered, error) {
	if err := Load(); err != nil {
		return Rendered{}, err
	}
	instructions, err := execute(name+"_instructions.tmpl", data)
	if err != nil {
		return Rendered{}, err
	}
	prompt, err := execute(name+"_prompt.tmpl", data)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Prompt: prompt, Instructions: instructions}, nil
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// SanitizeAnswer strips delimiter tags a student could use to break out of
// the answer block, trims it and caps its length.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return noAnswer
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
