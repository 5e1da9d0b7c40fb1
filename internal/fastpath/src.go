package fastpath

import (
	"regexp"
	"strconv"
	"strings"

	"livepatch/internal/logging"
	"livepatch/internal/types"
)

// SrcRadius is the number of lines searched either side of the target.
const SrcRadius = 15

var (
	srcDoubleRe = regexp.MustCompile(`\bsrc\s*=\s*"([^"]*)"`)
	srcSingleRe = regexp.MustCompile(`\bsrc\s*=\s*'([^']*)'`)
	srcJSXRe    = regexp.MustCompile(`\bsrc\s*=\s*\{([^{}]*)\}`)
	imgTagRe    = regexp.MustCompile(`(?i)<img\b`)
)

type srcKind int

const (
	srcDouble srcKind = iota
	srcSingle
	srcJSX
)

// srcHit is one src attribute occurrence. valStart/valEnd bound the text
// that gets replaced: the quoted value, or the whole {...} expression.
type srcHit struct {
	line             int
	valStart, valEnd int
	value            string
	kind             srcKind
	onImg            bool
}

// Src rewrites the src attribute of the element near line. An attribute
// whose value is the old src wins; otherwise the src on the nearest <img
// line is used.
func Src(content string, line int, change types.SrcChange) (string, bool) {
	return SrcWithin(content, line, SrcRadius, change)
}

// SrcWithin is Src with an explicit window radius.
func SrcWithin(content string, line, radius int, change types.SrcChange) (string, bool) {
	if radius <= 0 {
		radius = SrcRadius
	}
	if change.NewSrc == "" || change.NewSrc == change.OldSrc {
		return "", false
	}
	li := newLineIndex(content)

	var fallback *srcHit
	for _, ln := range li.nearestFirst(line, radius) {
		hits := srcHitsOnLine(content, li, ln)
		for i := range hits {
			if srcMatches(hits[i].value, change.OldSrc) {
				return rewriteSrc(content, hits[i], change.NewSrc)
			}
		}
		if fallback == nil {
			for i := range hits {
				if hits[i].onImg {
					fallback = &hits[i]
					break
				}
			}
		}
	}
	if fallback == nil {
		logging.FastPathDebug("src: no src attribute within %d lines of %d", radius, line)
		return "", false
	}
	return rewriteSrc(content, *fallback, change.NewSrc)
}

func srcHitsOnLine(content string, li lineIndex, ln int) []srcHit {
	start, end := li.start(ln), li.end(ln)
	text := content[start:end]
	onImg := imgTagRe.MatchString(text)

	var hits []srcHit
	collect := func(re *regexp.Regexp, kind srcKind) {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			h := srcHit{line: ln, kind: kind, onImg: onImg}
			h.valStart, h.valEnd = start+m[2], start+m[3]
			h.value = text[m[2]:m[3]]
			if kind == srcJSX {
				h.value = unquoteJS(strings.TrimSpace(h.value))
			}
			hits = append(hits, h)
		}
	}
	collect(srcDoubleRe, srcDouble)
	collect(srcSingleRe, srcSingle)
	collect(srcJSXRe, srcJSX)
	return hits
}

// srcMatches compares a source attribute value with the src the browser
// reported, which is usually an absolute URL.
func srcMatches(value, oldSrc string) bool {
	if value == "" || oldSrc == "" {
		return false
	}
	if value == oldSrc {
		return true
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(value, "./"), "/")
	if rel == "" {
		return false
	}
	old := oldSrc
	if i := strings.IndexAny(old, "?#"); i >= 0 {
		old = old[:i]
	}
	return old == rel || strings.HasSuffix(old, "/"+rel)
}

func rewriteSrc(content string, h srcHit, newSrc string) (string, bool) {
	var repl string
	switch h.kind {
	case srcDouble:
		if strings.Contains(newSrc, `"`) {
			return "", false
		}
		repl = newSrc
	case srcSingle:
		if strings.Contains(newSrc, "'") {
			return "", false
		}
		repl = newSrc
	case srcJSX:
		repl = strconv.Quote(newSrc)
	}
	out := splice(content, h.valStart, h.valEnd, repl)
	if out == content {
		return "", false
	}
	logging.FastPathDebug("src: rewrote line %d", h.line)
	return out, true
}

// unquoteJS returns the contents of a single JS string literal, or s
// unchanged when it is any other expression.
func unquoteJS(s string) string {
	if len(s) >= 2 {
		q := s[0]
		if (q == '"' || q == '\'' || q == '`') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}
