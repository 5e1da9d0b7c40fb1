package fastpath

import (
	"regexp"
	"strings"

	"livepatch/internal/types"
)

type decl struct {
	prop  string
	value string
}

// declList is an ordered CSS declaration block.
type declList []decl

func parseDecls(s string) declList {
	var out declList
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" {
			continue
		}
		out = append(out, decl{prop: k, value: v})
	}
	return out
}

// set overrides prop in place or appends it.
func (l declList) set(prop, value string) declList {
	for i := range l {
		if strings.EqualFold(l[i].prop, prop) {
			l[i].value = value
			return l
		}
	}
	return append(l, decl{prop: prop, value: value})
}

func (l declList) String() string {
	parts := make([]string, 0, len(l))
	for _, d := range l {
		parts = append(parts, d.prop+": "+d.value)
	}
	return strings.Join(parts, "; ")
}

// camel converts a CSS property to its React style key.
func camel(prop string) string {
	if strings.HasPrefix(prop, "--") || !strings.Contains(prop, "-") {
		return prop
	}
	vendor := strings.HasPrefix(prop, "-") && !strings.HasPrefix(prop, "-ms-")
	parts := strings.Split(strings.TrimPrefix(prop, "-"), "-")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 && !vendor {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

// kebab converts a React style key to its CSS property.
func kebab(key string) string {
	if strings.HasPrefix(key, "-") {
		return strings.ToLower(key)
	}
	var b strings.Builder
	if strings.HasPrefix(key, "ms") && len(key) > 2 && key[2] >= 'A' && key[2] <= 'Z' {
		b.WriteString("-")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if 'A' <= c && c <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			} else {
				b.WriteString("-")
			}
			b.WriteByte(c + ('a' - 'A'))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

var jsStringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// objectEntry renders one style object property.
func objectEntry(prop, value string) string {
	key := camel(prop)
	if strings.HasPrefix(key, "--") {
		key = "'" + key + "'"
	}
	return key + ": '" + jsStringEscaper.Replace(value) + "'"
}

func objectEntries(css types.CSSChanges) string {
	entries := make([]string, 0, len(css))
	for _, k := range css.SortedKeys() {
		entries = append(entries, objectEntry(k, css[k]))
	}
	return strings.Join(entries, ", ")
}

// objectValue reports whether key is set in a style object body and, if it
// is a literal, its value.
func objectValue(inner, key string) (string, bool) {
	for _, k := range []string{key, kebab(key)} {
		re := regexp.MustCompile(`(?:^|[\s,{])['"]?` + regexp.QuoteMeta(k) +
			`['"]?\s*:\s*(?:'([^']*)'|"([^"]*)"|([^,}]+))`)
		m := re.FindStringSubmatch(inner)
		if m == nil {
			continue
		}
		for _, g := range m[1:] {
			if g != "" {
				return strings.TrimSpace(g), true
			}
		}
		return "", true
	}
	return "", false
}

// StyleProp renders css as a complete style attribute for the dialect.
func StyleProp(css types.CSSChanges, d Dialect) string {
	if d == DialectMarkup {
		var decls declList
		for _, k := range css.SortedKeys() {
			decls = decls.set(kebab(k), css[k])
		}
		return `style="` + decls.String() + `"`
	}
	return "style={{ " + objectEntries(css) + " }}"
}
