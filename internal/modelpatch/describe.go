package modelpatch

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"livepatch/internal/fastpath"
	"livepatch/internal/types"
)

var removalRe = regexp.MustCompile(`(?i)\b(remove|delete|hide)\b.*\b(this|that|it|the|element|button|image|img|icon|link|div|section|heading|card|text)\b`)

// IsRemoval reports whether a request asks for the element to go away.
func IsRemoval(request string) bool {
	return removalRe.MatchString(request)
}

// Describe builds the change description handed to the local model. A
// CSS-only change becomes a FIND/REPLACE WITH pair on the open tag, a
// removal becomes a FIND/REPLACE WITH that stops the element rendering, and
// anything else passes the user's request through.
func Describe(el *types.SelectedElement, css types.CSSChanges, text *types.TextChange, src *types.SrcChange, userRequest string, d fastpath.Dialect) string {
	delta := types.Delta{CSS: css, Text: text, Src: src}
	open := openTag(el, d)

	if delta.HasCSS() && !delta.HasText() && !delta.HasSrc() && open != "" {
		return fmt.Sprintf("FIND: %s\nREPLACE WITH: %s", open, withStyle(open, css, d))
	}

	if IsRemoval(userRequest) && open != "" {
		if d == fastpath.DialectMarkup {
			return fmt.Sprintf("FIND: %s\nREPLACE WITH: %s\nAdd only the hidden attribute. Change nothing else.",
				open, strings.TrimSuffix(open, ">")+" hidden>")
		}
		return fmt.Sprintf("FIND: %s\nREPLACE WITH: {false && %s...}\nWrap the whole element, from its opening tag to its matching closing tag, in {false && (...)}. Change nothing else.",
			open, open)
	}

	if strings.TrimSpace(userRequest) != "" {
		return userRequest
	}
	return deltaSummary(delta)
}

// deltaSummary describes a delta when the user gave no request text.
func deltaSummary(d types.Delta) string {
	var parts []string
	if d.HasCSS() {
		decls := make([]string, 0, len(d.CSS))
		for _, k := range d.CSS.SortedKeys() {
			decls = append(decls, k+": "+d.CSS[k])
		}
		parts = append(parts, "Set the element's inline style: "+strings.Join(decls, "; "))
	}
	if d.HasText() {
		parts = append(parts, fmt.Sprintf("Change the text %q to %q", d.Text.OldText, d.Text.NewText))
	}
	if d.HasSrc() {
		parts = append(parts, fmt.Sprintf("Change the image src %q to %q", d.Src.OldSrc, d.Src.NewSrc))
	}
	return strings.Join(parts, "\n")
}

// skipAttr drops attributes the live page adds that never appear in source.
func skipAttr(name string) bool {
	return name == "style" || strings.HasPrefix(name, "data-source") || strings.HasPrefix(name, "data-livepatch")
}

var jsxAttrNames = map[string]string{
	"class":    "className",
	"for":      "htmlFor",
	"tabindex": "tabIndex",
	"readonly": "readOnly",
}

// openTag rebuilds the element's open tag as it would appear in source.
func openTag(el *types.SelectedElement, d fastpath.Dialect) string {
	if el == nil {
		return ""
	}
	name, attrs := tagFromOuterHTML(el.OuterHTML)
	if name == "" {
		name = el.Tag()
		if name == "" {
			return ""
		}
		if el.ID != "" {
			attrs = append(attrs, html.Attribute{Key: "id", Val: el.ID})
		}
		if len(el.ClassNames) > 0 {
			attrs = append(attrs, html.Attribute{Key: "class", Val: strings.Join(el.ClassNames, " ")})
		}
	}

	var b strings.Builder
	b.WriteString("<" + name)
	for _, a := range attrs {
		if skipAttr(a.Key) {
			continue
		}
		key := a.Key
		if d == fastpath.DialectJSX {
			if k, ok := jsxAttrNames[key]; ok {
				key = k
			}
		}
		if a.Val == "" {
			b.WriteString(" " + key)
			continue
		}
		fmt.Fprintf(&b, " %s=%q", key, a.Val)
	}
	b.WriteString(">")
	return b.String()
}

// tagFromOuterHTML tokenizes outer HTML up to its first start tag.
func tagFromOuterHTML(outer string) (string, []html.Attribute) {
	if strings.TrimSpace(outer) == "" {
		return "", nil
	}
	z := html.NewTokenizer(strings.NewReader(outer))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", nil
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			attrs := append([]html.Attribute(nil), tok.Attr...)
			sort.SliceStable(attrs, func(i, j int) bool { return attrRank(attrs[i].Key) < attrRank(attrs[j].Key) })
			return tok.Data, attrs
		}
	}
}

// attrRank keeps id and class first, which is how most source writes them.
func attrRank(key string) int {
	switch key {
	case "id":
		return 0
	case "class":
		return 1
	}
	return 2
}

func withStyle(open string, css types.CSSChanges, d fastpath.Dialect) string {
	return strings.TrimSuffix(open, ">") + " " + fastpath.StyleProp(css, d) + ">"
}
