package fastpath

import (
	"sort"
	"strings"

	"livepatch/internal/logging"
	"livepatch/internal/types"
)

const (
	// CSSRadius is the number of lines searched either side of the target.
	CSSRadius = 30

	// lookBehind lets a multi-line open tag that starts above the window
	// still match through attributes that fall inside it.
	lookBehind = 10
)

// openTag is one open tag found near the target line.
type openTag struct {
	name       string
	start, end int
	first      int
	last       int
	dist       int
}

// CSS writes css into the style of the element's open tag near line. The
// element must carry a class or an id; tag names alone are too ambiguous.
// Candidates are tried nearest first: tag+class or tag+id, then id alone.
func CSS(content string, line int, el *types.SelectedElement, css types.CSSChanges, d Dialect) (string, bool) {
	return CSSWithin(content, line, CSSRadius, el, css, d)
}

// CSSWithin is CSS with an explicit window radius.
func CSSWithin(content string, line, radius int, el *types.SelectedElement, css types.CSSChanges, d Dialect) (string, bool) {
	if radius <= 0 {
		radius = CSSRadius
	}
	if el == nil || len(css) == 0 {
		return "", false
	}
	classes := nonEmpty(el.ClassNames)
	id := strings.TrimSpace(el.ID)
	if id == "" && len(classes) == 0 {
		logging.FastPathDebug("css: <%s> has no class or id, refusing", el.Tag())
		return "", false
	}

	li := newLineIndex(content)
	target := li.clamp(line)
	cands := openTagsNear(content, li, target, radius)
	tag := el.Tag()

	for _, c := range cands {
		if !sameTag(c.name, tag, d) {
			continue
		}
		text := content[c.start:c.end]
		if matchesClass(text, classes) || (id != "" && matchesID(text, id)) {
			return rewriteTag(content, c, css, d)
		}
	}
	if id != "" {
		for _, c := range cands {
			if matchesID(content[c.start:c.end], id) {
				return rewriteTag(content, c, css, d)
			}
		}
	}
	logging.FastPathDebug("css: no <%s> matching class/id within %d lines of %d", tag, radius, line)
	return "", false
}

// sameTag reports whether a source tag renders the DOM tag. In JSX a
// capitalized name is a component, so only an exact match counts; markup
// tags are case-insensitive unless written as a PascalCase component.
func sameTag(name, tag string, d Dialect) bool {
	if name == tag {
		return true
	}
	if d != DialectMarkup || !strings.EqualFold(name, tag) {
		return false
	}
	return name == strings.ToUpper(name)
}

func openTagsNear(content string, li lineIndex, target, radius int) []openTag {
	lo, hi := li.clamp(target-radius), li.clamp(target+radius)
	from, to := li.start(lo-lookBehind), li.end(hi)

	var out []openTag
	for i := from; i < to; i++ {
		if content[i] != '<' || i+1 >= len(content) || !isLetter(content[i+1]) {
			continue
		}
		end := scanOpenTag(content, i)
		if end < 0 {
			continue
		}
		t := openTag{name: tagName(content, i), start: i, end: end}
		t.first, t.last = li.lineOf(i), li.lineOf(end-1)
		if t.last < lo || t.first > hi {
			continue
		}
		switch {
		case target < t.first:
			t.dist = t.first - target
		case target > t.last:
			t.dist = target - t.last
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].dist < out[b].dist })
	return out
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchesClass(tag string, classes []string) bool {
	for _, name := range []string{"className", "class"} {
		a, ok := findAttr(tag, name)
		if !ok {
			continue
		}
		v := a.value(tag)
		for _, c := range classes {
			if hasToken(v, c) {
				return true
			}
		}
	}
	return false
}

func matchesID(tag, id string) bool {
	a, ok := findAttr(tag, "id")
	return ok && hasToken(a.value(tag), id)
}

func rewriteTag(content string, t openTag, css types.CSSChanges, d Dialect) (string, bool) {
	tag := content[t.start:t.end]
	var (
		newTag string
		ok     bool
	)
	if d == DialectMarkup {
		newTag, ok = markupStyle(tag, t.name, css)
	} else {
		newTag, ok = jsxStyle(tag, t.name, css)
	}
	if !ok || newTag == tag {
		return "", false
	}
	logging.FastPathDebug("css: rewrote <%s> at line %d", t.name, t.first)
	return splice(content, t.start, t.end, newTag), true
}

// jsxStyle merges css into style={{...}}, converts style="..." to object
// form, or inserts a new style prop after the tag name.
func jsxStyle(tag, name string, css types.CSSChanges) (string, bool) {
	a, ok := findAttr(tag, "style")
	if !ok {
		at := 1 + len(name)
		return tag[:at] + " style={{ " + objectEntries(css) + " }}" + tag[at:], true
	}

	if a.delim != '{' {
		decls := parseDecls(a.value(tag))
		for _, k := range css.SortedKeys() {
			decls = decls.set(kebab(k), css[k])
		}
		entries := make([]string, 0, len(decls))
		for _, dcl := range decls {
			entries = append(entries, objectEntry(dcl.prop, dcl.value))
		}
		return tag[:a.start] + "style={{ " + strings.Join(entries, ", ") + " }}" + tag[a.end:], true
	}

	expr := tag[a.valStart:a.valEnd]
	lb := strings.IndexByte(expr, '{')
	if lb < 0 || strings.TrimSpace(expr[:lb]) != "" {
		// style={styles.card} and friends: not an object literal.
		return "", false
	}
	rb := matchBrace(expr, lb)
	if rb < 0 || strings.TrimSpace(expr[rb+1:]) != "" {
		return "", false
	}
	inner := expr[lb+1 : rb]

	var add []string
	for _, k := range css.SortedKeys() {
		v, present := objectValue(inner, camel(k))
		if !present {
			add = append(add, objectEntry(k, css[k]))
			continue
		}
		if v != css[k] {
			// A differing existing value is left to the model paths.
			return "", false
		}
	}
	if len(add) == 0 {
		return "", false
	}

	trimmed := strings.TrimRight(inner, " \t\r\n")
	var merged string
	switch {
	case strings.TrimSpace(inner) == "":
		merged = " " + strings.Join(add, ", ") + " "
	case strings.HasSuffix(trimmed, ","):
		merged = trimmed + " " + strings.Join(add, ", ") + inner[len(trimmed):]
	default:
		merged = trimmed + ", " + strings.Join(add, ", ") + inner[len(trimmed):]
	}
	abs := a.valStart + lb + 1
	return tag[:abs] + merged + tag[abs+len(inner):], true
}

// markupStyle merges css into a style="..." string, inserting one after the
// tag name when absent.
func markupStyle(tag, name string, css types.CSSChanges) (string, bool) {
	var decls declList
	a, ok := findAttr(tag, "style")
	if ok {
		if a.delim == '{' {
			return "", false
		}
		decls = parseDecls(a.value(tag))
	}
	for _, k := range css.SortedKeys() {
		decls = decls.set(kebab(k), css[k])
	}
	if strings.Contains(decls.String(), `"`) {
		return "", false
	}
	attrText := `style="` + decls.String() + `"`
	if !ok {
		at := 1 + len(name)
		return tag[:at] + " " + attrText + tag[at:], true
	}
	return tag[:a.start] + attrText + tag[a.end:], true
}
