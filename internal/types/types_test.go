package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectedElement_IdentityIgnoresLiveMutation(t *testing.T) {
	before := &SelectedElement{
		TagName:    "BUTTON",
		ClassNames: []string{"primary", "btn"},
		OuterHTML:  `<button class="btn primary">Old</button>`,
		SourceLocation: &SourceLocation{
			Sources: []SourceRef{{File: "src/App.tsx", Line: 42}},
		},
	}
	after := *before
	after.OuterHTML = `<button class="btn primary" style="color: red">Old</button>`
	after.ClassNames = []string{"btn", "primary"}

	assert.Equal(t, before.Identity(), after.Identity())
	assert.Equal(t, "button.btn.primary@src/App.tsx:42", before.Identity())
}

func TestSelectedElement_IdentityFallsBackToSelector(t *testing.T) {
	el := &SelectedElement{TagName: "img", ID: "hero", Selector: "#hero"}
	assert.Equal(t, "img#hero@#hero", el.Identity())

	var nilEl *SelectedElement
	assert.Equal(t, "", nilEl.Identity())
}

func TestSelectedElement_IdentitySeparatesListSiblings(t *testing.T) {
	item := func(selector string) *SelectedElement {
		return &SelectedElement{
			TagName:        "LI",
			ClassNames:     []string{"row"},
			SourceLocation: &SourceLocation{Sources: []SourceRef{{File: "src/List.tsx", Line: 12}}},
			Selector:       selector,
		}
	}
	first, second := item("ul > li:nth-child(1)"), item("ul > li:nth-child(2)")
	assert.NotEqual(t, first.Identity(), second.Identity())
	assert.Equal(t, "li.row@src/List.tsx:12@ul > li:nth-child(1)", first.Identity())
	assert.Equal(t, "li.row@src/List.tsx:12", item("").Identity())
}

func TestSourceLocation_Primary(t *testing.T) {
	var loc *SourceLocation
	_, ok := loc.Primary()
	assert.False(t, ok)

	loc = &SourceLocation{Sources: []SourceRef{{File: "a.tsx", Line: 3}, {File: "b.tsx", Line: 9}}}
	ref, ok := loc.Primary()
	assert.True(t, ok)
	assert.Equal(t, "a.tsx", ref.File)
}

func TestDelta_Shape(t *testing.T) {
	tests := []struct {
		name           string
		delta          Delta
		css, text, src bool
	}{
		{"empty", Delta{}, false, false, false},
		{"css", Delta{CSS: CSSChanges{"color": "red"}}, true, false, false},
		{"blank text", Delta{Text: &TextChange{}}, false, false, false},
		{"text", Delta{Text: &TextChange{OldText: "a", NewText: "b"}}, false, true, false},
		{"src", Delta{Src: &SrcChange{OldSrc: "a.png", NewSrc: "b.png"}}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.css, tt.delta.HasCSS())
			assert.Equal(t, tt.text, tt.delta.HasText())
			assert.Equal(t, tt.src, tt.delta.HasSrc())
		})
	}
}

func TestCSSChanges_SortedKeys(t *testing.T) {
	c := CSSChanges{"padding": "4px", "color": "red", "background-color": "blue"}
	assert.Equal(t, []string{"background-color", "color", "padding"}, c.SortedKeys())
}
