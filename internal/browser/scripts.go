package browser

import (
	"encoding/json"
	"fmt"
	"strings"

	"livepatch/internal/types"
)

// ScriptPair is the preview script for a delta and the script that reverts
// it. Both evaluate to true when they found the element.
type ScriptPair struct {
	Apply string `json:"apply"`
	Undo  string `json:"undo"`
}

// Empty reports whether the pair does nothing.
func (p ScriptPair) Empty() bool {
	return p.Apply == "" && p.Undo == ""
}

// undoStore is the page global holding values overwritten by previews,
// keyed by token so that overlapping previews revert independently.
const undoStore = "window.__livepatchUndo"

// jsLit renders v as a JavaScript literal. JSON is a subset of JS.
func jsLit(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func wrap(selector, token, body string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const store = (%s = %s || {});
	const key = %s;
%s
	return true;
})()`, jsLit(selector), undoStore, undoStore, jsLit(token), body)
}

// StyleScripts sets inline style properties and restores the previous
// inline values on undo. Property names may be camel or kebab case.
func StyleScripts(selector, token string, css types.CSSChanges) ScriptPair {
	if len(css) == 0 {
		return ScriptPair{}
	}
	props := make([][2]string, 0, len(css))
	for _, k := range css.SortedKeys() {
		props = append(props, [2]string{cssName(k), css[k]})
	}
	apply := fmt.Sprintf(`	const prev = (store[key + ':style'] = store[key + ':style'] || {});
	for (const [k, v] of %s) {
		if (!(k in prev)) prev[k] = [el.style.getPropertyValue(k), el.style.getPropertyPriority(k)];
		el.style.setProperty(k, v);
	}`, jsLit(props))
	undo := `	const prev = store[key + ':style'];
	if (!prev) return false;
	for (const [k, [v, p]] of Object.entries(prev)) {
		if (v) el.style.setProperty(k, v, p); else el.style.removeProperty(k);
	}
	delete store[key + ':style'];`
	return ScriptPair{Apply: wrap(selector, token, apply), Undo: wrap(selector, token, undo)}
}

// TextScripts replaces the element's text content.
func TextScripts(selector, token string, change types.TextChange) ScriptPair {
	apply := fmt.Sprintf(`	if (!((key + ':text') in store)) store[key + ':text'] = el.textContent;
	el.textContent = %s;`, jsLit(change.NewText))
	undo := fmt.Sprintf(`	const prev = (key + ':text') in store ? store[key + ':text'] : %s;
	el.textContent = prev;
	delete store[key + ':text'];`, jsLit(change.OldText))
	return ScriptPair{Apply: wrap(selector, token, apply), Undo: wrap(selector, token, undo)}
}

// SrcScripts replaces the element's src attribute.
func SrcScripts(selector, token string, change types.SrcChange) ScriptPair {
	apply := fmt.Sprintf(`	if (!((key + ':src') in store)) store[key + ':src'] = el.getAttribute('src');
	el.setAttribute('src', %s);`, jsLit(change.NewSrc))
	undo := fmt.Sprintf(`	const prev = (key + ':src') in store ? store[key + ':src'] : %s;
	if (prev === null) el.removeAttribute('src'); else el.setAttribute('src', prev);
	delete store[key + ':src'];`, jsLit(change.OldSrc))
	return ScriptPair{Apply: wrap(selector, token, apply), Undo: wrap(selector, token, undo)}
}

// DeltaScripts combines the scripts for every part of a delta. Undo runs
// the parts in reverse order.
func DeltaScripts(selector, token string, d types.Delta) ScriptPair {
	var parts []ScriptPair
	if d.HasCSS() {
		parts = append(parts, StyleScripts(selector, token, d.CSS))
	}
	if d.HasText() {
		parts = append(parts, TextScripts(selector, token, *d.Text))
	}
	if d.HasSrc() {
		parts = append(parts, SrcScripts(selector, token, *d.Src))
	}
	if len(parts) == 0 {
		return ScriptPair{}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	apply := make([]string, len(parts))
	undo := make([]string, len(parts))
	for i, p := range parts {
		apply[i] = p.Apply
		undo[len(parts)-1-i] = p.Undo
	}
	return ScriptPair{Apply: all(apply), Undo: all(undo)}
}

func all(scripts []string) string {
	return "[" + strings.Join(scripts, ",\n") + "].every(Boolean)"
}

// cssName converts camelCase property names to the kebab case
// CSSStyleDeclaration.setProperty expects.
func cssName(k string) string {
	if strings.Contains(k, "-") {
		return k
	}
	var b strings.Builder
	for _, r := range k {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if strings.HasPrefix(s, "ms-") {
		s = "-" + s
	}
	return s
}
