package modelpatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"livepatch/internal/llm"
	"livepatch/internal/logging"
	"livepatch/internal/types"
)

// CloudRequest is everything the cloud rewrite needs.
type CloudRequest struct {
	Window      Window
	Element     *types.SelectedElement
	CSS         types.CSSChanges
	Text        *types.TextChange
	Src         *types.SrcChange
	UserRequest string
	SourceFile  string
	TargetLine  int
}

// Cloud runs the cloud model over a large window.
type Cloud struct {
	factory llm.Factory
}

// NewCloud creates the cloud adapter. A nil factory uses the real clients.
func NewCloud(factory llm.Factory) *Cloud {
	if factory == nil {
		factory = llm.DefaultFactory{}
	}
	return &Cloud{factory: factory}
}

// Apply returns the rewritten window. A provider without a key fails with
// llm.ErrNoAPIKey before any network call.
func (c *Cloud) Apply(ctx context.Context, cfg llm.ProviderConfig, req CloudRequest) (string, error) {
	if cfg.Cloud.IsZero() {
		return "", fmt.Errorf("cloud: %w", ErrNoModel)
	}
	if llm.RequiresKey(cfg.Cloud.Provider) && cfg.APIKey(cfg.Cloud.Provider) == "" {
		return "", fmt.Errorf("cloud: %w", llm.ErrNoAPIKey)
	}
	gen, err := c.factory.New(ctx, cfg.Cloud, cfg)
	if err != nil {
		return "", fmt.Errorf("cloud: %w", err)
	}

	timer := logging.StartTimer(logging.CategoryModel, "cloud rewrite "+cfg.Cloud.String())
	raw, err := gen.Generate(ctx, llm.Request{
		System:      cloudSystem,
		Prompt:      CloudPrompt(req),
		Temperature: 0,
	})
	timer.StopWithThreshold(20 * time.Second)
	if err != nil {
		return "", fmt.Errorf("cloud: %w", err)
	}

	code, err := validate(raw)
	if err != nil {
		logging.ModelWarn("cloud rejected output: %v", err)
		return "", fmt.Errorf("cloud: %w", err)
	}
	return code, nil
}

const cloudSystem = `You edit source files of a web UI. You receive a snippet of a file and a requested visual change to one element.
Return ONLY the complete updated snippet. No explanation, no markdown fences.`

// identifiable reports whether the element can be found by its text or
// classes rather than by line number.
func identifiable(el *types.SelectedElement) bool {
	if el == nil {
		return false
	}
	text := strings.TrimSpace(el.TextContent)
	return (text != "" && len(text) <= 80) || len(el.ClassNames) > 0
}

// CloudPrompt builds the instruction set for the cloud model.
func CloudPrompt(req CloudRequest) string {
	var b strings.Builder
	w := req.Window

	fmt.Fprintf(&b, "FILE: %s\n", req.SourceFile)
	fmt.Fprintf(&b, "SNIPPET: lines %d-%d of the file.\n\n", w.Start, w.End)

	if el := req.Element; el != nil {
		b.WriteString("ELEMENT:\n")
		fmt.Fprintf(&b, "- tag: <%s>\n", el.Tag())
		if el.ID != "" {
			fmt.Fprintf(&b, "- id: %s\n", el.ID)
		}
		if len(el.ClassNames) > 0 {
			fmt.Fprintf(&b, "- classes: %s\n", strings.Join(el.ClassNames, " "))
		}
		if text := strings.TrimSpace(el.TextContent); text != "" {
			if len(text) > 200 {
				text = text[:200] + "..."
			}
			fmt.Fprintf(&b, "- text: %q\n", text)
		}
		b.WriteString("\n")
	}

	b.WriteString("CHANGE:\n")
	if len(req.CSS) > 0 {
		for _, k := range req.CSS.SortedKeys() {
			fmt.Fprintf(&b, "- style %s: %s\n", k, req.CSS[k])
		}
	}
	if req.Text != nil && (req.Text.OldText != "" || req.Text.NewText != "") {
		fmt.Fprintf(&b, "- text %q -> %q\n", req.Text.OldText, req.Text.NewText)
	}
	if req.Src != nil && req.Src.NewSrc != "" {
		fmt.Fprintf(&b, "- src %q -> %q\n", req.Src.OldSrc, req.Src.NewSrc)
	}
	if r := strings.TrimSpace(req.UserRequest); r != "" {
		fmt.Fprintf(&b, "- request: %s\n", r)
	}
	b.WriteString("\n")

	b.WriteString("LOCATING THE ELEMENT:\n")
	if identifiable(req.Element) {
		fmt.Fprintf(&b, "The reported line (%d) may be stale. Search the snippet for the element by its text and classes above and edit that element. Do not trust the line number over those characteristics.\n\n", req.TargetLine)
	} else {
		fmt.Fprintf(&b, "Edit the element at line %d of the file (line %d of the snippet).\n\n", req.TargetLine, w.LineInWindow(req.TargetLine))
	}

	b.WriteString("RULES:\n")
	b.WriteString("- The result must have the SAME NUMBER of elements as the snippet. Only the style prop (or the requested text or src) changes. Never duplicate an element.\n")
	b.WriteString("- Preserve formatting: indentation, quote style, line breaks and every line you do not change.\n")
	b.WriteString("- In JSX files write styles as a style={{ ... }} object; in HTML, Vue, Svelte and Astro files use a style=\"...\" string.\n")
	b.WriteString("- Return the whole snippet, not only the changed lines.\n\n")

	b.WriteString("SNIPPET:\n")
	b.WriteString(w.Text)
	b.WriteString("\n")
	return b.String()
}
