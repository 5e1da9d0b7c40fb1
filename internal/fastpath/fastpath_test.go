package fastpath

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepatch/internal/types"
)

// appWithButtonAt returns a file whose line 42 holds the button.
func appWithButtonAt(button string) string {
	var b strings.Builder
	b.WriteString("export function App() {\n")
	for i := 2; i < 42; i++ {
		b.WriteString("  // filler\n")
	}
	b.WriteString("      " + button + "\n")
	b.WriteString("}\n")
	return b.String()
}

// changedLines returns the line numbers that differ between a and b.
func changedLines(t *testing.T, a, b string) []int {
	t.Helper()
	al, bl := strings.Split(a, "\n"), strings.Split(b, "\n")
	require.Equal(t, len(al), len(bl), "line count changed:\n%s", cmp.Diff(a, b))
	var out []int
	for i := range al {
		if al[i] != bl[i] {
			out = append(out, i+1)
		}
	}
	return out
}

func button() *types.SelectedElement {
	return &types.SelectedElement{TagName: "BUTTON", ClassNames: []string{"btn"}, TextContent: "Old"}
}

func TestCSS_InsertsStyleProp(t *testing.T) {
	src := appWithButtonAt(`<button class="btn">Old</button>`)
	out, ok := CSS(src, 42, button(), types.CSSChanges{"color": "red"}, DialectJSX)
	require.True(t, ok)
	assert.Contains(t, out, `<button style={{ color: 'red' }} class="btn">Old</button>`)
	assert.Equal(t, []int{42}, changedLines(t, src, out))
}

func TestCSS_RequiresClassOrID(t *testing.T) {
	src := appWithButtonAt(`<button>Old</button>`)
	el := &types.SelectedElement{TagName: "button", TextContent: "Old"}
	for _, d := range []Dialect{DialectJSX, DialectMarkup} {
		_, ok := CSS(src, 42, el, types.CSSChanges{"color": "red"}, d)
		assert.False(t, ok)
	}
}

func TestCSS_MergesExistingObject(t *testing.T) {
	src := `<div className="card" style={{ padding: 4 }}>x</div>`
	el := &types.SelectedElement{TagName: "div", ClassNames: []string{"card"}}
	out, ok := CSS(src, 1, el, types.CSSChanges{"background-color": "blue"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, `<div className="card" style={{ padding: 4, backgroundColor: 'blue' }}>x</div>`, out)
}

func TestCSS_SkipsPresentProperty(t *testing.T) {
	src := `<div className="card" style={{ color: 'red' }}>x</div>`
	el := &types.SelectedElement{TagName: "div", ClassNames: []string{"card"}}

	_, ok := CSS(src, 1, el, types.CSSChanges{"color": "red"}, DialectJSX)
	assert.False(t, ok, "identical value is a no-op")

	_, ok = CSS(src, 1, el, types.CSSChanges{"color": "green"}, DialectJSX)
	assert.False(t, ok, "differing value falls through")
}

func TestCSS_ConvertsStringStyle(t *testing.T) {
	src := `<p id="lead" style="font-size: 12px; color: black">x</p>`
	el := &types.SelectedElement{TagName: "p", ID: "lead"}
	out, ok := CSS(src, 1, el, types.CSSChanges{"color": "red", "marginTop": "8px"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, `<p id="lead" style={{ fontSize: '12px', color: 'red', marginTop: '8px' }}>x</p>`, out)
}

func TestCSS_MarkupDialect(t *testing.T) {
	src := "<section>\n  <p class=\"lead intro\">x</p>\n</section>\n"
	el := &types.SelectedElement{TagName: "p", ClassNames: []string{"intro"}}
	out, ok := CSS(src, 2, el, types.CSSChanges{"fontWeight": "bold"}, DialectMarkup)
	require.True(t, ok)
	assert.Contains(t, out, `<p style="font-weight: bold" class="lead intro">x</p>`)

	out2, ok := CSS(out, 2, el, types.CSSChanges{"color": "red"}, DialectMarkup)
	require.True(t, ok)
	assert.Contains(t, out2, `<p style="font-weight: bold; color: red" class="lead intro">x</p>`)
}

func TestCSS_MultiLineTagAndNearestFirst(t *testing.T) {
	src := strings.Join([]string{
		`<div className="row">far</div>`,
		`<div`,
		`  className="row"`,
		`  onClick={() => setOpen(x > 1)}`,
		`>`,
		`  near`,
		`</div>`,
	}, "\n")
	el := &types.SelectedElement{TagName: "div", ClassNames: []string{"row"}}
	out, ok := CSS(src, 6, el, types.CSSChanges{"color": "red"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, []int{2}, changedLines(t, src, out))
	assert.Contains(t, out, "<div style={{ color: 'red' }}\n  className=\"row\"")
}

func TestCSS_IDAloneMatchesOtherTag(t *testing.T) {
	src := `<Card id="hero" title="x" />`
	el := &types.SelectedElement{TagName: "div", ID: "hero"}
	out, ok := CSS(src, 1, el, types.CSSChanges{"color": "red"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, `<Card style={{ color: 'red' }} id="hero" title="x" />`, out)
}

func TestCSS_ComponentIsNotDOMTag(t *testing.T) {
	src := "<Button className=\"btn\">Old</Button>\n<button className=\"btn\">Old</button>\n"
	out, ok := CSS(src, 1, button(), types.CSSChanges{"color": "red"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, []int{2}, changedLines(t, src, out))

	_, ok = CSS(`<Button className="btn">Old</Button>`, 1, button(), types.CSSChanges{"color": "red"}, DialectJSX)
	assert.False(t, ok)

	out, ok = CSS(`<BUTTON class="btn">Old</BUTTON>`, 1, button(), types.CSSChanges{"color": "red"}, DialectMarkup)
	require.True(t, ok)
	assert.Contains(t, out, `style="color: red"`)
}

func TestCSS_OutsideWindow(t *testing.T) {
	src := `<button class="btn">Old</button>` + strings.Repeat("\n", 80)
	_, ok := CSS(src, 70, button(), types.CSSChanges{"color": "red"}, DialectJSX)
	assert.False(t, ok)
}

func TestCSS_StyleExpressionRefused(t *testing.T) {
	src := `<div className="card" style={styles.card}>x</div>`
	el := &types.SelectedElement{TagName: "div", ClassNames: []string{"card"}}
	_, ok := CSS(src, 1, el, types.CSSChanges{"color": "red"}, DialectJSX)
	assert.False(t, ok)
}

func TestText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		change  types.TextChange
		want    string
	}{
		{"jsx text node", `<button className="btn">Old</button>`, types.TextChange{OldText: "Old", NewText: "New"}, `<button className="btn">New</button>`},
		{"text node keeps whitespace", "<h1>\n  Welcome home\n</h1>", types.TextChange{OldText: " Welcome home ", NewText: "Hi"}, "<h1>\n  Hi\n</h1>"},
		{"double quoted", `const title = "Hello";`, types.TextChange{OldText: "Hello", NewText: `Say "hi"`}, `const title = "Say \"hi\"";`},
		{"single quoted", `const t = 'It';`, types.TextChange{OldText: "It", NewText: "It's"}, `const t = 'It\'s';`},
		{"template", "const t = `Hi`;", types.TextChange{OldText: "Hi", NewText: "Cost ${x}"}, "const t = `Cost \\${x}`;"},
		{"jsx braces wrapped", `<p>Old</p>`, types.TextChange{OldText: "Old", NewText: "a < b"}, `<p>{"a < b"}</p>`},
		{"regex metachars literal", `<p>Price (USD) $5.00</p>`, types.TextChange{OldText: "Price (USD) $5.00", NewText: "Free"}, `<p>Free</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Text(tt.content, tt.change, DialectJSX)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestText_MarkupEscapesEntities(t *testing.T) {
	src := "<template>\n  <p class=\"hint\">Old</p>\n</template>\n"
	got, ok := Text(src, types.TextChange{OldText: "Old", NewText: "a < b {x} & c"}, DialectMarkup)
	require.True(t, ok)
	assert.Equal(t, "<template>\n  <p class=\"hint\">a &lt; b &#123;x&#125; &amp; c</p>\n</template>\n", got)

	got, ok = Text(src, types.TextChange{OldText: "Old", NewText: "Plain"}, DialectMarkup)
	require.True(t, ok)
	assert.Contains(t, got, ">Plain<")
}

func TestText_FirstStructuralMatchOnly(t *testing.T) {
	src := "<a>Old</a>\n<b>Old</b>\n"
	got, ok := Text(src, types.TextChange{OldText: "Old", NewText: "New"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, "<a>New</a>\n<b>Old</b>\n", got)
}

func TestText_PrefersTextNodeOverLiteral(t *testing.T) {
	src := "const label = \"Old\";\n<p>Old</p>\n"
	got, ok := Text(src, types.TextChange{OldText: "Old", NewText: "New"}, DialectJSX)
	require.True(t, ok)
	assert.Equal(t, "const label = \"Old\";\n<p>New</p>\n", got)
}

func TestText_NoMatchOrNoop(t *testing.T) {
	_, ok := Text(`<p>Other</p>`, types.TextChange{OldText: "Old", NewText: "New"}, DialectJSX)
	assert.False(t, ok)
	_, ok = Text(`<p>Same</p>`, types.TextChange{OldText: "Same", NewText: "Same"}, DialectJSX)
	assert.False(t, ok)
	_, ok = Text(`<p>x</p>`, types.TextChange{OldText: "  ", NewText: "y"}, DialectJSX)
	assert.False(t, ok)
}

func TestSrc(t *testing.T) {
	tests := []struct {
		name    string
		content string
		change  types.SrcChange
		want    string
	}{
		{"double quotes", `<img src="a.png" alt="" />`, types.SrcChange{OldSrc: "a.png", NewSrc: "b.png"}, `<img src="b.png" alt="" />`},
		{"single quotes preserved", `<img src='a.png' />`, types.SrcChange{OldSrc: "a.png", NewSrc: "b.png"}, `<img src='b.png' />`},
		{"absolute url old src", `<img src="/img/a.png" />`, types.SrcChange{OldSrc: "http://localhost:5173/img/a.png?v=2", NewSrc: "/img/b.png"}, `<img src="/img/b.png" />`},
		{"jsx literal", `<img src={"a.png"} />`, types.SrcChange{OldSrc: "a.png", NewSrc: "b.png"}, `<img src={"b.png"} />`},
		{"jsx expression falls back to img", `<img src={logo} />`, types.SrcChange{OldSrc: "http://x/static/logo.123.svg", NewSrc: "b.png"}, `<img src={"b.png"} />`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Src(tt.content, 1, tt.change)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSrc_PrefersMatchingValueOverNearestImg(t *testing.T) {
	src := strings.Join([]string{
		`<img src="other.png" />`,
		`<div>`,
		`<img src="a.png" />`,
	}, "\n")
	got, ok := Src(src, 1, types.SrcChange{OldSrc: "a.png", NewSrc: "b.png"})
	require.True(t, ok)
	assert.Equal(t, []int{3}, changedLines(t, src, got))
}

func TestSrc_Refusals(t *testing.T) {
	_, ok := Src(`<div>no image</div>`, 1, types.SrcChange{OldSrc: "a.png", NewSrc: "b.png"})
	assert.False(t, ok, "no src")

	_, ok = Src(`<img src="a.png" />`, 1, types.SrcChange{OldSrc: "a.png", NewSrc: `b".png`})
	assert.False(t, ok, "quote in new value")

	far := `<img src="a.png" />` + strings.Repeat("\n", 40)
	_, ok = Src(far, 30, types.SrcChange{OldSrc: "a.png", NewSrc: "b.png"})
	assert.False(t, ok, "outside window")

	_, ok = Src(`<img src="b.png" />`, 1, types.SrcChange{OldSrc: "b.png", NewSrc: "b.png"})
	assert.False(t, ok, "no-op")
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, DialectJSX, DialectFor("/p/src/App.tsx"))
	assert.Equal(t, DialectMarkup, DialectFor("/p/index.HTML"))
	assert.Equal(t, DialectMarkup, DialectFor("/p/App.vue"))
	assert.Equal(t, "markup", DialectMarkup.String())
}

func TestCaseConversion(t *testing.T) {
	assert.Equal(t, "backgroundColor", camel("background-color"))
	assert.Equal(t, "WebkitTransition", camel("-webkit-transition"))
	assert.Equal(t, "msTransform", camel("-ms-transform"))
	assert.Equal(t, "--brand", camel("--brand"))
	assert.Equal(t, "background-color", kebab("backgroundColor"))
	assert.Equal(t, "-webkit-transition", kebab("WebkitTransition"))
	assert.Equal(t, "-ms-transform", kebab("msTransform"))
}

func TestStyleProp(t *testing.T) {
	css := types.CSSChanges{"color": "red", "font-size": "12px"}
	assert.Equal(t, "style={{ color: 'red', fontSize: '12px' }}", StyleProp(css, DialectJSX))
	assert.Equal(t, `style="color: red; font-size: 12px"`, StyleProp(css, DialectMarkup))
}
