package fastpath

import (
	"regexp"
	"strings"

	"livepatch/internal/logging"
	"livepatch/internal/types"
)

type textForm int

const (
	textNode textForm = iota
	textDouble
	textSingle
	textTemplate
)

type textPattern struct {
	form textForm
	re   *regexp.Regexp
}

// textPatterns are tried in order; the first structural match in the whole
// file is rewritten.
func textPatterns(old string) []textPattern {
	q := regexp.QuoteMeta(old)
	return []textPattern{
		{textNode, regexp.MustCompile(`>(\s*)` + q + `(\s*)<`)},
		{textDouble, regexp.MustCompile(`"` + q + `"`)},
		{textSingle, regexp.MustCompile(`'` + q + `'`)},
		{textTemplate, regexp.MustCompile("`" + q + "`")},
	}
}

// Text replaces the first occurrence of the old text as a text node, then
// as a string literal, then as a template literal. The search covers the
// whole file because text is often defined away from the element. The
// dialect decides how markup characters in a text node are escaped.
func Text(content string, change types.TextChange, d Dialect) (string, bool) {
	old := strings.TrimSpace(change.OldText)
	if old == "" {
		return "", false
	}
	newText := strings.TrimSpace(change.NewText)
	if newText == old {
		return "", false
	}

	for _, p := range textPatterns(old) {
		m := p.re.FindStringSubmatchIndex(content)
		if m == nil {
			continue
		}
		start, end := m[0]+1, m[1]-1
		if p.form == textNode {
			start, end = m[3], m[4]
		}
		repl, ok := escapeText(p.form, newText, d)
		if !ok {
			continue
		}
		out := splice(content, start, end, repl)
		if out == content {
			return "", false
		}
		logging.FastPathDebug("text: rewrote %q at offset %d", old, start)
		return out, true
	}
	logging.FastPathDebug("text: %q not found", old)
	return "", false
}

var (
	doubleEscaper   = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	singleEscaper   = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`)
	templateEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`", "${", "\\${")

	// Braces are entities too: vue, svelte and astro templates read them as
	// expressions.
	markupEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "{", "&#123;", "}", "&#125;")
)

// escapeText encodes s for the syntactic position it is written into.
func escapeText(form textForm, s string, d Dialect) (string, bool) {
	switch form {
	case textNode:
		if d == DialectMarkup {
			return markupEscaper.Replace(s), true
		}
		if strings.ContainsAny(s, "{}<>") {
			return `{"` + doubleEscaper.Replace(s) + `"}`, true
		}
		return s, true
	case textDouble:
		return doubleEscaper.Replace(s), true
	case textSingle:
		return singleEscaper.Replace(s), true
	case textTemplate:
		return templateEscaper.Replace(s), true
	}
	return "", false
}
