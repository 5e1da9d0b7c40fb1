package fastpath

import (
	"strings"
	"unicode"
)

// maxTagLen bounds how far an open tag is scanned.
const maxTagLen = 8192

// scanOpenTag returns the offset just past the '>' closing the open tag that
// starts at s[start] == '<'. Quotes and JSX brace depth are honored so
// arrows and comparisons inside expressions do not end the tag.
func scanOpenTag(s string, start int) int {
	depth := 0
	var quote byte
	limit := start + maxTagLen
	if limit > len(s) {
		limit = len(s)
	}
	for i := start + 1; i < limit; i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
		case '>':
			if depth == 0 {
				return i + 1
			}
		case '<':
			if depth == 0 {
				return -1
			}
		}
	}
	return -1
}

// matchBrace returns the index of the '}' closing s[open] == '{'.
func matchBrace(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// attr locates one attribute inside an open tag. value excludes the
// delimiters; for '{' it is the raw expression.
type attr struct {
	start, end int
	valStart   int
	valEnd     int
	delim      byte
}

func (a attr) value(tag string) string { return tag[a.valStart:a.valEnd] }

// findAttr finds a top-level attribute by exact name.
func findAttr(tag, name string) (attr, bool) {
	depth := 0
	var quote byte
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
			continue
		case '{':
			depth++
			continue
		case '}':
			depth--
			continue
		}
		if depth != 0 || i == 0 || !isSpace(tag[i-1]) || !strings.HasPrefix(tag[i:], name) {
			continue
		}
		j := skipSpace(tag, i+len(name))
		if j >= len(tag) || tag[j] != '=' {
			continue
		}
		j = skipSpace(tag, j+1)
		if j >= len(tag) {
			return attr{}, false
		}
		switch d := tag[j]; d {
		case '"', '\'':
			k := strings.IndexByte(tag[j+1:], d)
			if k < 0 {
				return attr{}, false
			}
			return attr{start: i, end: j + k + 2, valStart: j + 1, valEnd: j + 1 + k, delim: d}, true
		case '{':
			k := matchBrace(tag, j)
			if k < 0 {
				return attr{}, false
			}
			return attr{start: i, end: k + 1, valStart: j + 1, valEnd: k, delim: '{'}, true
		}
		return attr{}, false
	}
	return attr{}, false
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// tokens splits an attribute value or class expression into candidate
// class or id names.
func tokens(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("\"'`{}(),+?&|", r)
	})
}

func hasToken(v, want string) bool {
	for _, t := range tokens(v) {
		if t == want {
			return true
		}
	}
	return false
}

// tagName reads the element name after '<'.
func tagName(s string, lt int) string {
	i := lt + 1
	for i < len(s) {
		c := s[i]
		if c == '-' || c == '.' || c == ':' || c == '_' || ('0' <= c && c <= '9') ||
			('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			i++
			continue
		}
		break
	}
	return s[lt+1 : i]
}
