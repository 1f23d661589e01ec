package exam

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/examforge/internal/docstore"
	"github.com/pavelanni/examforge/internal/generate"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/store"
)

// scriptedLLM answers by request kind and counts calls per kind.
type scriptedLLM struct {
	mu    sync.Mutex
	calls map[string]int
	bulk  string
	item  string
	grade string
}

func (f *scriptedLLM) Complete(_ context.Context, prompt, _ string, _ time.Duration) (string, error) {
	kind := "bulk"
	switch {
	case strings.Contains(prompt, "<student-answer>"):
		kind = "grade"
	case strings.Contains(prompt, "Write paragraph question"):
		kind = "item"
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[kind]++
	switch kind {
	case "grade":
		return f.grade, nil
	case "item":
		return f.item, nil
	}
	return f.bulk, nil
}

func (f *scriptedLLM) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func newTestService(t *testing.T, fake *scriptedLLM) (*Service, *store.Store) {
	t.Helper()
	docs, err := docstore.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	st := store.New(docs)
	t.Cleanup(func() { st.Close() })
	opts := DefaultOptions()
	opts.Generate.Pause = 0
	opts.EvalTimeout = time.Second
	return New(st, fake, opts), st
}

func raw(t *testing.T, vs ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		out = append(out, b)
	}
	return out
}

func mixedInput(t *testing.T) TestInput {
	t.Helper()
	return TestInput{
		Title:     "Go basics",
		CreatedBy: "teacher-1",
		Questions: raw(t,
			map[string]any{"text": "Which keyword starts a goroutine?", "options": []string{"go", "async", "spawn"}, "correct_answer": 0},
			map[string]any{"text": "What does len return for a nil slice?", "type": "mcq", "options": []string{"0", "-1", "panic"}, "correct_answer": 0},
			map[string]any{"text": "Explain channels.", "type": "paragraph", "model_answer": "Channels are typed conduits between goroutines.", "max_score": 8},
		),
	}
}

func TestCreateTest(t *testing.T) {
	svc, st := newTestService(t, &scriptedLLM{})
	ctx := context.Background()

	created, err := svc.CreateTest(ctx, mixedInput(t))
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if created.ID == "" || created.TimeLimit != model.DefaultTimeLimit {
		t.Errorf("created = %+v, want id and default time limit", created)
	}
	got, err := st.GetTest(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if len(got.Questions) != 3 || got.Questions[2].Essay.MaxScore != 8 {
		t.Errorf("stored questions = %+v", got.Questions)
	}
	if len(got.Questions[2].Essay.Keywords) == 0 {
		t.Error("keywords should be derived from the model answer")
	}
}

func TestCreateTestValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*TestInput)
		wantField string
	}{
		{"missing title", func(in *TestInput) { in.Title = " " }, "title"},
		{"missing creator", func(in *TestInput) { in.CreatedBy = "" }, "created_by"},
		{"no questions", func(in *TestInput) { in.Questions = nil }, "questions"},
		{"negative time limit", func(in *TestInput) { in.TimeLimit = -5 }, "time_limit"},
		{"mcq without options", func(in *TestInput) {
			in.Questions[1] = json.RawMessage(`{"text":"Q","correct_answer":0}`)
		}, "questions[1].options"},
		{"paragraph without model answer", func(in *TestInput) {
			in.Questions[2] = json.RawMessage(`{"text":"Q","type":"paragraph"}`)
		}, "questions[2].model_answer"},
		{"correct answer out of range", func(in *TestInput) {
			in.Questions[0] = json.RawMessage(`{"text":"Q","options":["a","b"],"correct_answer":2}`)
		}, "questions[0].correct_answer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &scriptedLLM{}
			svc, st := newTestService(t, fake)
			in := mixedInput(t)
			tt.mutate(&in)

			_, err := svc.CreateTest(context.Background(), in)
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *model.ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
			}
			list, _ := st.ListTests(context.Background())
			if len(list) != 0 {
				t.Errorf("stored %d tests after a validation failure", len(list))
			}
		})
	}
}

func TestGenerateTestRouting(t *testing.T) {
	bulk := `Here you go: [
		{"text": "Q1?", "type": "mcq", "options": ["a", "b", "c", "d"], "correct_answer": 1},
		{"text": "Q2?", "type": "paragraph", "model_answer": "An answer about the topic in detail.", "max_score": 10}
	]`
	item := `{"text": "Describe the scheduler.", "model_answer": "The scheduler multiplexes goroutines onto threads.", "max_score": 10}`

	tests := []struct {
		name      string
		types     []model.QuestionType
		count     int
		wantBulk  int
		wantItems int
	}{
		{"mixed goes bulk", []model.QuestionType{model.TypeMCQ, model.TypeParagraph}, 2, 1, 0},
		{"default types go bulk", nil, 2, 1, 0},
		{"paragraph only goes staged", []model.QuestionType{model.TypeParagraph}, 3, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &scriptedLLM{bulk: bulk, item: item}
			svc, _ := newTestService(t, fake)
			got, err := svc.GenerateTest(context.Background(), generate.Request{
				Topic:        "Go runtime",
				Count:        tt.count,
				AllowedTypes: tt.types,
				CreatedBy:    "teacher-1",
			})
			if err != nil {
				t.Fatalf("GenerateTest: %v", err)
			}
			if len(got.Questions) != tt.count {
				t.Errorf("got %d questions, want %d", len(got.Questions), tt.count)
			}
			if fake.count("bulk") != tt.wantBulk || fake.count("item") != tt.wantItems {
				t.Errorf("calls: bulk=%d item=%d, want bulk=%d item=%d",
					fake.count("bulk"), fake.count("item"), tt.wantBulk, tt.wantItems)
			}
		})
	}
}

func TestGenerateTestRejectsBadRequestWithoutCalling(t *testing.T) {
	fake := &scriptedLLM{}
	svc, _ := newTestService(t, fake)
	_, err := svc.GenerateTest(context.Background(), generate.Request{Topic: "x", Count: 51, CreatedBy: "t"})
	var ve *model.ValidationError
	if !errors.As(err, &ve) || ve.Field != "num_questions" {
		t.Fatalf("error = %v, want num_questions validation error", err)
	}
	if fake.count("bulk")+fake.count("item") != 0 {
		t.Error("no model call expected")
	}
}

func TestGenerateTestFailure(t *testing.T) {
	fake := &scriptedLLM{bulk: "Sorry, I cannot do that."}
	svc, st := newTestService(t, fake)
	_, err := svc.GenerateTest(context.Background(), generate.Request{Topic: "x", Count: 3, CreatedBy: "t",
		AllowedTypes: []model.QuestionType{model.TypeMCQ}})
	var ge *generate.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("error = %v, want *generate.GenerationError", err)
	}
	list, _ := st.ListTests(context.Background())
	if len(list) != 0 {
		t.Errorf("stored %d tests after a failed generation", len(list))
	}
}

func TestStartAttempt(t *testing.T) {
	svc, _ := newTestService(t, &scriptedLLM{})
	ctx := context.Background()
	created, err := svc.CreateTest(ctx, mixedInput(t))
	if err != nil {
		t.Fatal(err)
	}

	a, view, err := svc.StartAttempt(ctx, created.ID, "student-1")
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if a.ID == "" || a.TestID != created.ID || a.IsCompleted {
		t.Errorf("attempt = %+v", a)
	}
	b, _ := json.Marshal(view)
	for _, secret := range []string{"correct_answer", "model_answer", "keywords", "typed conduits"} {
		if strings.Contains(string(b), secret) {
			t.Errorf("student view leaks %q: %s", secret, b)
		}
	}

	if _, _, err := svc.StartAttempt(ctx, "missing", "student-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing test: error = %v, want ErrNotFound", err)
	}
	var ve *model.ValidationError
	if _, _, err := svc.StartAttempt(ctx, created.ID, ""); !errors.As(err, &ve) {
		t.Errorf("missing student: error = %v, want ValidationError", err)
	}
}

func TestSubmitAttempt(t *testing.T) {
	fake := &scriptedLLM{grade: `{"score": 6, "feedback": "Mostly right."}`}
	svc, st := newTestService(t, fake)
	ctx := context.Background()
	created, err := svc.CreateTest(ctx, mixedInput(t))
	if err != nil {
		t.Fatal(err)
	}
	a, _, err := svc.StartAttempt(ctx, created.ID, "student-1")
	if err != nil {
		t.Fatal(err)
	}

	answers := []model.Answer{model.ChoiceAnswer(0), model.ChoiceAnswer(2), model.TextAnswer("They pass values.")}
	graded, err := svc.SubmitAttempt(ctx, a.ID, answers)
	if err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	// 1 + 0 + 6 out of 1 + 1 + 8
	if graded.Score != 70 {
		t.Errorf("Score = %g, want 70", graded.Score)
	}
	wantFeedback := []string{"Correct", "Incorrect", "Mostly right."}
	for i, want := range wantFeedback {
		if graded.Feedback[i] != want {
			t.Errorf("Feedback[%d] = %q, want %q", i, graded.Feedback[i], want)
		}
	}
	if !graded.IsCompleted || graded.CompletedAt == nil {
		t.Error("attempt should be completed")
	}
	if fake.count("grade") != 1 {
		t.Errorf("grade calls = %d, want 1", fake.count("grade"))
	}

	// A second submission is rejected and leaves the stored grade alone.
	fake.grade = `{"score": 8, "feedback": "Perfect."}`
	_, err = svc.SubmitAttempt(ctx, a.ID, []model.Answer{model.ChoiceAnswer(0), model.ChoiceAnswer(0), model.TextAnswer("better")})
	if !errors.Is(err, ErrAttemptCompleted) {
		t.Fatalf("second submit error = %v, want ErrAttemptCompleted", err)
	}
	stored, err := st.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Score != 70 || stored.Feedback[2] != "Mostly right." {
		t.Errorf("stored attempt changed: score %g feedback %q", stored.Score, stored.Feedback)
	}
	if fake.count("grade") != 1 {
		t.Errorf("second submit made grading calls: %d", fake.count("grade"))
	}
}

func TestSubmitAttemptKeepsAnswersAligned(t *testing.T) {
	tests := []struct {
		name      string
		answers   []model.Answer
		wantLen   int
		wantScore float64
	}{
		{
			name: "surplus answers dropped",
			answers: []model.Answer{
				model.ChoiceAnswer(0), model.ChoiceAnswer(0), model.TextAnswer("They pass values."),
				model.ChoiceAnswer(3), model.TextAnswer("extra"),
			},
			wantLen:   3,
			wantScore: 100 * 8.0 / 10.0,
		},
		{
			name:      "short submission counts answered questions only",
			answers:   []model.Answer{model.ChoiceAnswer(0)},
			wantLen:   1,
			wantScore: 100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, &scriptedLLM{grade: `{"score": 6, "feedback": "ok"}`})
			ctx := context.Background()
			created, err := svc.CreateTest(ctx, mixedInput(t))
			if err != nil {
				t.Fatal(err)
			}
			a, _, err := svc.StartAttempt(ctx, created.ID, "student-1")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := svc.SubmitAttempt(ctx, a.ID, tt.answers); err != nil {
				t.Fatalf("SubmitAttempt: %v", err)
			}
			stored, err := st.GetAttempt(ctx, a.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(stored.Answers) != tt.wantLen || len(stored.QuestionScores) != tt.wantLen || len(stored.Feedback) != tt.wantLen {
				t.Errorf("stored %d answers, %d scores, %d feedback; want %d each",
					len(stored.Answers), len(stored.QuestionScores), len(stored.Feedback), tt.wantLen)
			}
			if stored.Score != tt.wantScore {
				t.Errorf("Score = %g, want %g", stored.Score, tt.wantScore)
			}
		})
	}
}

func TestSubmitAttemptErrors(t *testing.T) {
	svc, _ := newTestService(t, &scriptedLLM{})
	ctx := context.Background()

	if _, err := svc.SubmitAttempt(ctx, "missing", []model.Answer{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing attempt: error = %v, want ErrNotFound", err)
	}
	var ve *model.ValidationError
	if _, err := svc.SubmitAttempt(ctx, "missing", nil); !errors.As(err, &ve) {
		t.Errorf("nil answers: error = %v, want ValidationError", err)
	}
}

func TestUpdateTest(t *testing.T) {
	svc, _ := newTestService(t, &scriptedLLM{})
	ctx := context.Background()
	created, err := svc.CreateTest(ctx, mixedInput(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.UpdateTest(ctx, created.ID, TestUpdate{Title: "New", RequestedBy: "teacher-2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("other teacher: error = %v, want ErrForbidden", err)
	}
	if _, err := svc.UpdateTest(ctx, "missing", TestUpdate{RequestedBy: "teacher-1"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing test: error = %v, want ErrNotFound", err)
	}
	bad := TestUpdate{RequestedBy: "teacher-1", Questions: []json.RawMessage{json.RawMessage(`{"text":"Q"}`)}}
	var ve *model.ValidationError
	if _, err := svc.UpdateTest(ctx, created.ID, bad); !errors.As(err, &ve) {
		t.Errorf("bad questions: error = %v, want ValidationError", err)
	}

	desc := "Updated description"
	updated, err := svc.UpdateTest(ctx, created.ID, TestUpdate{Title: "Go basics II", Description: &desc, TimeLimit: 45, RequestedBy: "teacher-1"})
	if err != nil {
		t.Fatalf("UpdateTest: %v", err)
	}
	got, _ := svc.GetTest(ctx, created.ID)
	if got.Title != "Go basics II" || got.Description != desc || got.TimeLimit != 45 || len(got.Questions) != 3 {
		t.Errorf("stored test = %+v", got)
	}
	if updated.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", updated.UpdatedAt, got.CreatedAt)
	}
}

func TestListings(t *testing.T) {
	fake := &scriptedLLM{grade: `{"score": 4, "feedback": "ok"}`}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	first, err := svc.CreateTest(ctx, mixedInput(t))
	if err != nil {
		t.Fatal(err)
	}
	in := mixedInput(t)
	in.Title, in.CreatedBy = "Other", "teacher-2"
	second, err := svc.CreateTest(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	all, _ := svc.ListTests(ctx)
	available, _ := svc.ListAvailable(ctx)
	mine, _ := svc.ListByTeacher(ctx, "teacher-2")
	if len(all) != 2 || len(available) != 2 || len(mine) != 1 || mine[0].ID != second.ID {
		t.Errorf("all=%d available=%d mine=%v", len(all), len(available), mine)
	}

	a, _, _ := svc.StartAttempt(ctx, first.ID, "student-1")
	if _, err := svc.SubmitAttempt(ctx, a.ID, []model.Answer{model.ChoiceAnswer(0)}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.StartAttempt(ctx, second.ID, "student-1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteTest(ctx, second.ID); err != nil {
		t.Fatal(err)
	}

	summaries, err := svc.ListStudentAttempts(ctx, "student-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
	if summaries[0].Test == nil || summaries[0].Test.Title != "Go basics" || !summaries[0].IsCompleted {
		t.Errorf("first summary = %+v", summaries[0])
	}
	if summaries[1].Test != nil {
		t.Errorf("attempt at a deleted test should have no header, got %+v", summaries[1].Test)
	}

	exp, err := svc.Export(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if exp.NumQuestions != 3 || len(exp.Results) != 1 || exp.Results[0].Questions[0].Feedback != "Correct" {
		t.Errorf("export = %+v", exp)
	}
	if fake.count("grade") != 0 {
		t.Errorf("missing paragraph answer should not be graded by the model, got %d calls", fake.count("grade"))
	}
}

func TestImport(t *testing.T) {
	svc, st := newTestService(t, &scriptedLLM{})
	ctx := context.Background()

	file := []map[string]any{
		{
			"title": "Imported A",
			"questions": []map[string]any{
				{"text": "Pick b", "options": []string{"a", "b"}, "correct_answer": 1},
			},
		},
		{
			"title":      "Imported B",
			"created_by": "teacher-9",
			"time_limit": 20,
			"questions": []map[string]any{
				{"text": "Explain maps.", "type": "paragraph", "model_answer": "Hash tables keyed by comparable types."},
			},
		},
	}
	data, _ := json.Marshal(file)

	res, err := svc.Import(ctx, "tests.json", data, "importer")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Status != ImportDone || len(res.TestIDs) != 2 {
		t.Fatalf("result = %+v", res)
	}
	a, _ := st.GetTest(ctx, res.TestIDs[0])
	b, _ := st.GetTest(ctx, res.TestIDs[1])
	if a.CreatedBy != "importer" || b.CreatedBy != "teacher-9" || b.TimeLimit != 20 {
		t.Errorf("imported tests: %+v / %+v", a, b)
	}

	res, err = svc.Import(ctx, "tests.json", data, "importer")
	if err != nil || res.Status != ImportUnchanged {
		t.Errorf("re-import: %+v, %v", res, err)
	}

	changed := append([]byte(nil), data...)
	changed = append(changed, '\n')
	res, err = svc.Import(ctx, "tests.json", changed, "importer")
	if err != nil || res.Status != ImportChanged {
		t.Errorf("changed import: %+v, %v", res, err)
	}

	list, _ := st.ListTests(ctx)
	if len(list) != 2 {
		t.Errorf("stored %d tests, want 2", len(list))
	}
}

func TestImportUploadKeysOnContent(t *testing.T) {
	svc, st := newTestService(t, &scriptedLLM{})
	ctx := context.Background()
	fileA := []byte(`[{"title": "A", "questions": [{"text": "Pick", "options": ["a", "b"], "correct_answer": 0}]}]`)
	fileB := []byte(`[{"title": "B", "questions": [{"text": "Pick", "options": ["a", "b"], "correct_answer": 1}]}]`)

	steps := []struct {
		name      string
		data      []byte
		createdBy string
		want      ImportStatus
	}{
		{"first", fileA, "teacher-1", ImportDone},
		{"other content same name", fileB, "teacher-2", ImportDone},
		{"repeat by same uploader", fileA, "teacher-1", ImportUnchanged},
		{"same content other uploader", fileA, "teacher-2", ImportDone},
	}
	for _, s := range steps {
		res, err := svc.ImportUpload(ctx, "tests.json", s.data, s.createdBy)
		if err != nil || res.Status != s.want {
			t.Errorf("%s: %+v, %v, want %s", s.name, res, err, s.want)
		}
	}

	list, _ := st.ListTests(ctx)
	if len(list) != 3 {
		t.Errorf("stored %d tests, want 3", len(list))
	}
	// Uploads do not claim the name for files imported from disk.
	if res, err := svc.Import(ctx, "tests.json", fileB, "teacher-1"); err != nil || res.Status != ImportDone {
		t.Errorf("path import after uploads: %+v, %v", res, err)
	}
}

func TestImportInvalidStoresNothing(t *testing.T) {
	svc, st := newTestService(t, &scriptedLLM{})
	ctx := context.Background()
	data := []byte(`[
		{"title": "Good", "questions": [{"text": "Pick", "options": ["a", "b"], "correct_answer": 0}]},
		{"title": "Bad", "questions": [{"text": "Explain", "type": "paragraph"}]}
	]`)

	_, err := svc.Import(ctx, "bad.json", data, "importer")
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if ve.Field != "tests[1].questions[0].model_answer" {
		t.Errorf("Field = %q", ve.Field)
	}
	list, _ := st.ListTests(ctx)
	if len(list) != 0 {
		t.Errorf("stored %d tests, want 0", len(list))
	}
	if _, err := st.GetImport(ctx, "bad.json"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed import was recorded: %v", err)
	}
}
