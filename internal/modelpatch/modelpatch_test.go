package modelpatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepatch/internal/fastpath"
	"livepatch/internal/llm"
	"livepatch/internal/types"
)

// fakeFactory hands out one generator and counts constructions.
type fakeFactory struct {
	gen   llm.Generator
	err   error
	calls atomic.Int32
	refs  []llm.ModelRef
	mu    sync.Mutex
}

func (f *fakeFactory) New(_ context.Context, ref llm.ModelRef, _ llm.ProviderConfig) (llm.Generator, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.gen, nil
}

func reply(s string) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) { return s, nil })
}

func cfg() llm.ProviderConfig {
	return llm.ProviderConfig{
		Local:   llm.ModelRef{Provider: llm.ProviderOllama, Model: "qwen2.5-coder:7b"},
		Cloud:   llm.ModelRef{Provider: llm.ProviderGemini, Model: "gemini-2.5-flash"},
		APIKeys: map[llm.Provider]string{llm.ProviderGemini: "k"},
	}
}

func TestIsProse(t *testing.T) {
	prose := []string{
		"I cannot apply this change.",
		"I can't find the element",
		"I apologize, but",
		"I'm sorry, the code",
		"The provided snippet does not contain",
		"Unfortunately the element",
		"As an AI model",
		"This JSX is not valid",
		"To do this you should add a style prop",
		"You can change the color by",
		"First you need to import React",
	}
	for _, p := range prose {
		assert.True(t, IsProse(p+"\nmore"), p)
	}
	code := []string{
		`<button className="btn">Old</button>`,
		"export function App() {",
		"  // you should not see this on the first line\nx",
		"",
	}
	assert.False(t, IsProse(code[0]))
	assert.False(t, IsProse(code[1]))
	assert.False(t, IsProse("\n\n<div />"))
	assert.False(t, IsProse(code[3]))
	assert.False(t, IsProse(code[2]), "a comment is code")
	assert.False(t, IsProse(`<p className="hint">Here you can edit your profile</p>`+"\n<Form />"))
	assert.False(t, IsProse(`const tip = "you should save first";`))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "  <div />\n  <p />", stripFences("```tsx\n  <div />\n  <p />\n```"))
	assert.Equal(t, "\n  <div />\n", stripFences("\n  <div />\n"), "unfenced answers are untouched")
	assert.Equal(t, "\n  <div />\n", stripFences("```jsx\n\n  <div />\n\n```"))
	assert.Equal(t, "", stripFences("```"))
}

func TestExtractAndSplice(t *testing.T) {
	content := "a\nb\nc\nd\ne\nf\ng\n"
	w := Extract(content, 4, 1)
	assert.Equal(t, 3, w.Start)
	assert.Equal(t, 5, w.End)
	assert.Equal(t, "c\nd\ne", w.Text)
	assert.Equal(t, 2, w.LineInWindow(4))

	out := w.Splice("C\nD\nE\n")
	assert.Equal(t, "a\nb\nC\nD\nE\nf\ng\n", out)

	same := w.Splice(w.Text)
	assert.Equal(t, content, same)
}

func TestSplice_KeepsBlankWindowEdges(t *testing.T) {
	content := "a\n\nb\nc\nd\n\ne"
	w := Extract(content, 4, 2)
	require.Equal(t, "\nb\nc\nd\n", w.Text)

	// The model dropped both blank edge lines and changed one line.
	out := w.Splice("b\nC\nd")
	assert.Equal(t, "a\n\nb\nC\nd\n\ne", out)

	// Extra blank lines are not inserted either.
	out = w.Splice("\n\nb\nC\nd\n\n\n")
	assert.Equal(t, "a\n\nb\nC\nd\n\ne", out)

	lines := strings.Count(content, "\n")
	assert.Equal(t, lines, strings.Count(out, "\n"))
}

func TestExtract_ClampsPastEnd(t *testing.T) {
	content := "a\nb\nc"
	w := Extract(content, 500, 30)
	assert.Equal(t, 1, w.Start)
	assert.Equal(t, 3, w.End)
	assert.Equal(t, content, w.Text)

	w = Extract(content, 0, 0)
	assert.Equal(t, 1, w.Start)
	assert.Equal(t, "a", w.Text)
}

func TestDescribe_CSSOnly(t *testing.T) {
	el := &types.SelectedElement{
		TagName:   "BUTTON",
		OuterHTML: `<button style="color: red;" class="btn primary" data-source-file="src/App.tsx" type="submit">Old</button>`,
	}
	got := Describe(el, types.CSSChanges{"color": "red"}, nil, nil, "make it red", fastpath.DialectJSX)
	assert.Equal(t,
		"FIND: <button className=\"btn primary\" type=\"submit\">\n"+
			"REPLACE WITH: <button className=\"btn primary\" type=\"submit\" style={{ color: 'red' }}>",
		got)

	html := Describe(el, types.CSSChanges{"color": "red"}, nil, nil, "", fastpath.DialectMarkup)
	assert.Contains(t, html, `FIND: <button class="btn primary" type="submit">`)
	assert.Contains(t, html, `style="color: red">`)
}

func TestDescribe_FromFieldsWithoutOuterHTML(t *testing.T) {
	el := &types.SelectedElement{TagName: "div", ID: "hero", ClassNames: []string{"a", "b"}}
	got := Describe(el, types.CSSChanges{"margin": "0"}, nil, nil, "", fastpath.DialectJSX)
	assert.True(t, strings.HasPrefix(got, `FIND: <div id="hero" className="a b">`), got)
}

func TestDescribe_Removal(t *testing.T) {
	el := &types.SelectedElement{TagName: "img", OuterHTML: `<img class="logo" src="a.png">`}
	got := Describe(el, nil, nil, nil, "please remove this image", fastpath.DialectJSX)
	assert.Contains(t, got, `FIND: <img className="logo" src="a.png">`)
	assert.Contains(t, got, `REPLACE WITH: {false && <img className="logo" src="a.png">...}`)

	assert.True(t, IsRemoval("Hide the button"))
	assert.False(t, IsRemoval("make the heading bigger"))
}

func TestDescribe_PassThrough(t *testing.T) {
	el := &types.SelectedElement{TagName: "p", ClassNames: []string{"x"}}
	text := &types.TextChange{OldText: "a", NewText: "b"}
	assert.Equal(t, "make it bold and say b", Describe(el, types.CSSChanges{"color": "red"}, text, nil, "make it bold and say b", fastpath.DialectJSX))

	got := Describe(el, types.CSSChanges{"color": "red"}, text, nil, "", fastpath.DialectJSX)
	assert.Contains(t, got, "color: red")
	assert.Contains(t, got, `Change the text "a" to "b"`)
}

func TestFastApply_Success(t *testing.T) {
	var prompt string
	gen := llm.GeneratorFunc(func(_ context.Context, req llm.Request) (string, error) {
		prompt = req.Prompt
		return "```tsx\n<button style={{ color: 'red' }}>Old</button>\n```", nil
	})
	f := &fakeFactory{gen: gen}
	res, err := NewFastApply(f).Apply(context.Background(), cfg(), "<button>Old</button>", "FIND: x")
	require.NoError(t, err)
	assert.Equal(t, "<button style={{ color: 'red' }}>Old</button>", res.Code)
	assert.Contains(t, prompt, "<code>\n<button>Old</button>\n</code>")
	assert.Contains(t, prompt, "<update>\nFIND: x\n</update>")
	assert.Equal(t, []llm.ModelRef{cfg().Local}, f.refs)
}

func TestFastApply_RejectsProseAndEmpty(t *testing.T) {
	_, err := NewFastApply(&fakeFactory{gen: reply("I cannot do that.")}).Apply(context.Background(), cfg(), "x", "y")
	assert.ErrorIs(t, err, ErrProse)

	_, err = NewFastApply(&fakeFactory{gen: reply("  \n ")}).Apply(context.Background(), cfg(), "x", "y")
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestFastApply_NoModel(t *testing.T) {
	f := &fakeFactory{gen: reply("x")}
	c := cfg()
	c.Local = llm.ModelRef{}
	_, err := NewFastApply(f).Apply(context.Background(), c, "x", "y")
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Zero(t, f.calls.Load())
}

func TestFastApply_SingleSlot(t *testing.T) {
	var inFlight, peak atomic.Int32
	gen := llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "<div />", nil
	})
	fa := NewFastApply(&fakeFactory{gen: gen})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = fa.Apply(context.Background(), cfg(), "x", "y")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestCloud_NoKeyMakesNoCall(t *testing.T) {
	f := &fakeFactory{gen: reply("<div />")}
	c := cfg()
	c.APIKeys = nil
	_, err := NewCloud(f).Apply(context.Background(), c, CloudRequest{Window: Extract("<div/>", 1, CloudRadius)})
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
	assert.Zero(t, f.calls.Load())
}

func TestCloud_Apply(t *testing.T) {
	f := &fakeFactory{gen: reply("```\n<div style={{ color: 'red' }} />\n```")}
	got, err := NewCloud(f).Apply(context.Background(), cfg(), CloudRequest{Window: Extract("<div />", 1, CloudRadius)})
	require.NoError(t, err)
	assert.Equal(t, "<div style={{ color: 'red' }} />", got)

	f = &fakeFactory{gen: reply("Unfortunately I could not find it.")}
	_, err = NewCloud(f).Apply(context.Background(), cfg(), CloudRequest{Window: Extract("<div />", 1, CloudRadius)})
	assert.ErrorIs(t, err, ErrProse)

	f = &fakeFactory{err: errors.New("boom")}
	_, err = NewCloud(f).Apply(context.Background(), cfg(), CloudRequest{Window: Extract("<div />", 1, CloudRadius)})
	assert.EqualError(t, err, "cloud: boom")
}

func TestCloudPrompt_LocatingMode(t *testing.T) {
	content := strings.Repeat("line\n", 300)
	w := Extract(content, 150, CloudRadius)

	search := CloudPrompt(CloudRequest{
		Window:     w,
		Element:    &types.SelectedElement{TagName: "button", ClassNames: []string{"btn"}, TextContent: "Buy"},
		CSS:        types.CSSChanges{"color": "red"},
		SourceFile: "/p/src/App.tsx",
		TargetLine: 150,
	})
	assert.Contains(t, search, "Search the snippet for the element")
	assert.Contains(t, search, "SAME NUMBER of elements")
	assert.Contains(t, search, "Preserve formatting")
	assert.Contains(t, search, "SNIPPET: lines 50-250")

	anchor := CloudPrompt(CloudRequest{
		Window:     w,
		Element:    &types.SelectedElement{TagName: "div"},
		TargetLine: 150,
	})
	assert.Contains(t, anchor, "Edit the element at line 150 of the file (line 101 of the snippet).")
}
