package extract

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func decode(t *testing.T, b []byte) any {
	t.Helper()
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return v
}

func TestExtract(t *testing.T) {
	const arr = `[{"text":"Q1","options":["a","b"],"correct_answer":0},{"text":"Q2","type":"paragraph"}]`

	tests := []struct {
		name  string
		raw   string
		shape Shape
		want  string
	}{
		{"clean array", arr, ArrayOfObjects, arr},
		{"prose wrapped array", "Here are your questions:\n" + arr + "\nGood luck!", ArrayOfObjects, arr},
		{"code fenced array", "```json\n" + arr + "\n```", ArrayOfObjects, arr},
		{
			"trailing commas",
			`[{"text":"Q1","options":["a","b",],"correct_answer":0,},{"text":"Q2","type":"paragraph"},]`,
			ArrayOfObjects, arr,
		},
		{
			"bare keys",
			`Sure! [{text: "Q1", options: ["a","b"], correct_answer: 0}, {text:"Q2", type:"paragraph"}]`,
			ArrayOfObjects, arr,
		},
		{"bare object for array", `{"text":"Q"}`, ArrayOfObjects, `{"text":"Q"}`},
		{"object", `The grade is {"score": 7, "feedback": "ok"} as requested.`, SingleObject, `{"score":7,"feedback":"ok"}`},
		{
			"comma inside string untouched",
			`{"feedback": "good, }", "score": 3,}`,
			SingleObject, `{"feedback":"good, }","score":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw, tt.shape)
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if !reflect.DeepEqual(decode(t, got), decode(t, []byte(tt.want))) {
				t.Errorf("Extract() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		shape      Shape
		wantNoSpan bool
	}{
		{"no json at all", "I cannot help with that.", ArrayOfObjects, true},
		{"no object", "score: 5", SingleObject, true},
		{"array of scalars", "[1, 2, 3]", ArrayOfObjects, false},
		{"unrepairable", "[{\"text\": 'single quoted'}]", ArrayOfObjects, false},
		{"reversed delimiters", "} nothing {", SingleObject, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.raw, tt.shape)
			var xe *Error
			if !errors.As(err, &xe) {
				t.Fatalf("error = %v, want *Error", err)
			}
			if xe.Shape != tt.shape {
				t.Errorf("Shape = %v, want %v", xe.Shape, tt.shape)
			}
			if errors.Is(err, ErrNoSpan) != tt.wantNoSpan {
				t.Errorf("errors.Is(ErrNoSpan) = %v, want %v (err: %v)", !tt.wantNoSpan, tt.wantNoSpan, err)
			}
		})
	}
}

func TestErrorTruncatesInput(t *testing.T) {
	raw := strings.Repeat("x", 1000)
	_, err := Extract(raw, SingleObject)
	var xe *Error
	if !errors.As(err, &xe) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if len(xe.Input) > maxInputInError+3 {
		t.Errorf("Input length = %d, want at most %d", len(xe.Input), maxInputInError+3)
	}
}

func TestRepairRules(t *testing.T) {
	tests := []struct {
		name string
		rule func(string) string
		in   string
		want string
	}{
		{"trailing comma object", dropTrailingCommas, `{"a":1,}`, `{"a":1}`},
		{"trailing comma array with space", dropTrailingCommas, "[1,2,\n ]", "[1,2\n ]"},
		{"inner commas kept", dropTrailingCommas, `[1,2]`, `[1,2]`},
		{"comma in string kept", dropTrailingCommas, `{"a":",}"}`, `{"a":",}"}`},
		{"escaped quote in string", dropTrailingCommas, `{"a":"x\",]",}`, `{"a":"x\",]"}`},
		{"bare key", quoteBareKeys, `{a: 1}`, `{"a": 1}`},
		{"bare keys after comma", quoteBareKeys, `{"a": 1, b_2 :2}`, `{"a": 1, "b_2" :2}`},
		{"quoted key kept", quoteBareKeys, `{"a": 1}`, `{"a": 1}`},
		{"bare word value kept", quoteBareKeys, `{"a": true, "b": null}`, `{"a": true, "b": null}`},
		{"key-like text in string kept", quoteBareKeys, `{"a": "x, y: z"}`, `{"a": "x, y: z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rule(tt.in); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSpan(t *testing.T) {
	got, err := Span(`noise [1] more [2] tail`, ArrayOfObjects)
	if err != nil {
		t.Fatalf("Span() error: %v", err)
	}
	if got != "[1] more [2]" {
		t.Errorf("Span() = %q", got)
	}
}
