// Package extract turns raw LLM output into validated JSON of a known shape.
//
// Extraction tries an ordered list of strategies, each more lenient than the
// last: parse the whole text, parse the delimited span, then parse the span
// after textual repairs.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// Shape is the top-level JSON shape a caller expects.
type Shape int

const (
	// SingleObject expects one JSON object.
	SingleObject Shape = iota
	// ArrayOfObjects expects an array of objects. A bare object is accepted
	// too; callers treat it as a one-element array.
	ArrayOfObjects
)

func (s Shape) String() string {
	if s == ArrayOfObjects {
		return "array"
	}
	return "object"
}

func (s Shape) delimiters() (open, close byte) {
	if s == ArrayOfObjects {
		return '[', ']'
	}
	return '{', '}'
}

const maxInputInError = 200

// ErrNoSpan means the text has no delimited span for the requested shape.
var ErrNoSpan = errors.New("no JSON span found")

// Error is returned when no strategy produced a value of the requested shape.
type Error struct {
	Shape Shape
	Input string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s: %v (input: %q)", e.Shape, e.Err, e.Input)
}

func (e *Error) Unwrap() error { return e.Err }

var schemas = map[Shape]*gojsonschema.Schema{
	SingleObject: mustSchema(`{"type": "object"}`),
	ArrayOfObjects: mustSchema(`{
		"oneOf": [
			{"type": "array", "items": {"type": "object"}},
			{"type": "object"}
		]
	}`),
}

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

type strategy struct {
	name string
	run  func(raw string, shape Shape) (json.RawMessage, error)
}

var strategies = []strategy{
	{"direct", parseDirect},
	{"span", parseSpan},
	{"repair", parseRepaired},
}

// Extract returns the first value of the requested shape that raw yields.
func Extract(raw string, shape Shape) (json.RawMessage, error) {
	var errs []error
	for _, st := range strategies {
		v, err := st.run(raw, shape)
		if err == nil {
			if len(errs) > 0 {
				slog.Debug("extraction recovered", "strategy", st.name, "shape", shape.String())
			}
			return v, nil
		}
		slog.Debug("extraction step failed", "strategy", st.name, "shape", shape.String(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", st.name, err))
		if errors.Is(err, ErrNoSpan) {
			break
		}
	}
	return nil, &Error{Shape: shape, Input: truncate(raw, maxInputInError), Err: errors.Join(errs...)}
}

func parseDirect(raw string, shape Shape) (json.RawMessage, error) {
	return Parse([]byte(raw), shape)
}

func parseSpan(raw string, shape Shape) (json.RawMessage, error) {
	return eachSpan(raw, shape, func(span string) (json.RawMessage, error) {
		return Parse([]byte(span), shape)
	})
}

func parseRepaired(raw string, shape Shape) (json.RawMessage, error) {
	return eachSpan(raw, shape, func(span string) (json.RawMessage, error) {
		return Parse([]byte(Repair(span)), shape)
	})
}

// spanShapes lists the delimiters to look for. An array request also tries
// an object span, since a bare object satisfies it.
func (s Shape) spanShapes() []Shape {
	if s == ArrayOfObjects {
		return []Shape{ArrayOfObjects, SingleObject}
	}
	return []Shape{SingleObject}
}

// eachSpan runs parse on every span raw has for shape and returns the first
// success. It fails with ErrNoSpan only when no span exists at all.
func eachSpan(raw string, shape Shape, parse func(string) (json.RawMessage, error)) (json.RawMessage, error) {
	var errs []error
	for _, s := range shape.spanShapes() {
		span, err := Span(raw, s)
		if err != nil {
			continue
		}
		v, err := parse(span)
		if err == nil {
			return v, nil
		}
		errs = append(errs, fmt.Errorf("%s span: %w", s, err))
	}
	if len(errs) == 0 {
		return nil, ErrNoSpan
	}
	return nil, errors.Join(errs...)
}

// Span returns raw from the first opening delimiter of shape to the last
// closing one, inclusive: '[' and ']' for ArrayOfObjects, '{' and '}' for
// SingleObject.
func Span(raw string, shape Shape) (string, error) {
	open, close := shape.delimiters()
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, close)
	if start == -1 || end == -1 || end < start {
		return "", ErrNoSpan
	}
	return raw[start : end+1], nil
}

// Parse strictly parses b and checks it against shape.
func Parse(b []byte, shape Shape) (json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("empty input")
	}
	if !json.Valid(b) {
		var v any
		err := json.Unmarshal(b, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, err
	}
	res, err := schemas[shape].Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("not a JSON %s: %s", shape, strings.Join(msgs, "; "))
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
