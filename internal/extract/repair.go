package extract

import (
	"strings"
	"unicode"
)

// rule is a named textual repair. Rules only touch text outside string
// literals.
type rule struct {
	name  string
	apply func(string) string
}

var rules = []rule{
	{"trailing-commas", dropTrailingCommas},
	{"quote-keys", quoteBareKeys},
}

// Repair applies every repair rule to s in order.
func Repair(s string) string {
	for _, r := range rules {
		s = r.apply(s)
	}
	return s
}

// scanner walks JSON-ish text and tracks whether it is inside a string.
type scanner struct {
	src      string
	inString bool
	escaped  bool
}

// step advances over src[i] and reports whether that byte is structural,
// i.e. outside any string literal, including the quote delimiters themselves.
func (sc *scanner) step(i int) bool {
	c := sc.src[i]
	if sc.inString {
		switch {
		case sc.escaped:
			sc.escaped = false
		case c == '\\':
			sc.escaped = true
		case c == '"':
			sc.inString = false
		}
		return false
	}
	if c == '"' {
		sc.inString = true
	}
	return true
}

// dropTrailingCommas removes a comma when the next non-space character closes
// an object or array.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	sc := scanner{src: s}
	for i := 0; i < len(s); i++ {
		structural := sc.step(i)
		if structural && s[i] == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// quoteBareKeys wraps unquoted identifier keys, `{key: ...}` or `, key: ...`,
// in double quotes.
func quoteBareKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	sc := scanner{src: s}
	expectKey := false
	for i := 0; i < len(s); i++ {
		structural := sc.step(i)
		c := s[i]
		if !structural {
			b.WriteByte(c)
			continue
		}
		if expectKey && isIdentStart(c) {
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			k := j
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				i = j - 1
				expectKey = false
				continue
			}
		}
		switch {
		case c == '{' || c == ',':
			expectKey = true
		case !isSpace(c):
			expectKey = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || c < 0x80 && unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
