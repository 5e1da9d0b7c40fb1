// Package types provides shared type definitions used across livepatch packages.
// This package exists to break import cycles between patchgen, approval, history and browser.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// ELEMENT SNAPSHOT
// =============================================================================

// Rect is a bounding rectangle in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Position is a drag target or origin in page coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SourceRef points at the code that rendered an element.
// Line and EndLine are 1-based; EndLine is 0 when unknown.
type SourceRef struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	EndLine int    `json:"endLine,omitempty"`
}

// SourceLocation is the source-map metadata captured with a selection.
type SourceLocation struct {
	Sources []SourceRef `json:"sources"`
	Summary string      `json:"summary,omitempty"`
}

// Primary returns the first (most specific) source reference.
func (l *SourceLocation) Primary() (SourceRef, bool) {
	if l == nil || len(l.Sources) == 0 {
		return SourceRef{}, false
	}
	return l.Sources[0], true
}

// SelectedElement is a snapshot of a DOM node at selection time.
// It is immutable once captured; a new selection creates a new value.
type SelectedElement struct {
	TagName          string            `json:"tagName"`
	ID               string            `json:"id,omitempty"`
	ClassNames       []string          `json:"classNames,omitempty"`
	TextContent      string            `json:"textContent,omitempty"`
	OuterHTML        string            `json:"outerHTML,omitempty"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	ComputedStyle    map[string]string `json:"computedStyle,omitempty"`
	Rect             Rect              `json:"rect"`
	SourceLocation   *SourceLocation   `json:"sourceLocation,omitempty"`
	TargetPosition   *Position         `json:"targetPosition,omitempty"`
	OriginalPosition *Position         `json:"originalPosition,omitempty"`

	// Selector locates the element again in the live page. Optional.
	Selector string `json:"selector,omitempty"`
}

// Tag returns the lower-cased tag name.
func (e *SelectedElement) Tag() string {
	return strings.ToLower(strings.TrimSpace(e.TagName))
}

// Identity returns a key that stays stable while the live preview mutates
// the element (outer HTML and styles change, tag/id/classes/source/selector
// do not).
func (e *SelectedElement) Identity() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Tag())
	if e.ID != "" {
		b.WriteString("#")
		b.WriteString(e.ID)
	}
	classes := append([]string(nil), e.ClassNames...)
	sort.Strings(classes)
	for _, c := range classes {
		b.WriteString(".")
		b.WriteString(c)
	}
	if ref, ok := e.SourceLocation.Primary(); ok {
		fmt.Fprintf(&b, "@%s:%d", ref.File, ref.Line)
	}
	// Siblings rendered from one source line differ only by selector.
	if e.Selector != "" {
		b.WriteString("@")
		b.WriteString(e.Selector)
	}
	return b.String()
}

// =============================================================================
// EDIT DELTAS
// =============================================================================

// CSSChanges maps CSS property names (kebab or camel case) to new values.
type CSSChanges map[string]string

// SortedKeys returns the property names in a deterministic order.
func (c CSSChanges) SortedKeys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TextChange replaces the text content of an element.
type TextChange struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// SrcChange replaces the src attribute of an element.
type SrcChange struct {
	OldSrc string `json:"oldSrc"`
	NewSrc string `json:"newSrc"`
}

// Delta is the proposed change for one edit.
type Delta struct {
	CSS  CSSChanges  `json:"cssChanges,omitempty"`
	Text *TextChange `json:"textChange,omitempty"`
	Src  *SrcChange  `json:"srcChange,omitempty"`
}

// HasText reports whether the delta carries a non-empty text change.
func (d Delta) HasText() bool {
	return d.Text != nil && (d.Text.OldText != "" || d.Text.NewText != "")
}

// HasSrc reports whether the delta carries a src change.
func (d Delta) HasSrc() bool {
	return d.Src != nil && d.Src.NewSrc != ""
}

// HasCSS reports whether the delta carries CSS changes.
func (d Delta) HasCSS() bool {
	return len(d.CSS) > 0
}

// =============================================================================
// PATCHES
// =============================================================================

// GeneratedBy records which strategy produced a patch.
type GeneratedBy string

const (
	GeneratedByFastPath  GeneratedBy = "fast-path"
	GeneratedByFastApply GeneratedBy = "fast-apply"
	GeneratedByGemini    GeneratedBy = "gemini"
)

// SourcePatch is the result of patch generation.
// OriginalContent never equals PatchedContent for a returned patch.
type SourcePatch struct {
	FilePath        string      `json:"filePath"`
	OriginalContent string      `json:"originalContent"`
	PatchedContent  string      `json:"patchedContent"`
	LineNumber      int         `json:"lineNumber"`
	GeneratedBy     GeneratedBy `json:"generatedBy"`
	DurationMs      int64       `json:"durationMs"`
}

// PatchStatus is the generation state of a pending approval.
type PatchStatus string

const (
	PatchPreparing PatchStatus = "preparing"
	PatchReady     PatchStatus = "ready"
	PatchError     PatchStatus = "error"
)

// Outcome is the terminal state of an approval.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeCancelled Outcome = "cancelled"
)
