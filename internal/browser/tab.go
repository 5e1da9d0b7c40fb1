package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	"livepatch/internal/logging"
	"livepatch/internal/types"
)

// ErrElementNotFound means the selector matched nothing in the page.
var ErrElementNotFound = errors.New("element not found")

// Tab is one live page.
type Tab struct {
	ID       string
	TargetID string
	page     *rod.Page
}

func newTab(page *rod.Page) *Tab {
	return &Tab{
		ID:       uuid.NewString(),
		TargetID: string(page.TargetID),
		page:     page,
	}
}

// Page exposes the underlying rod page.
func (t *Tab) Page() *rod.Page {
	return t.page
}

// ExecuteJavaScript evaluates code as a script in the page and returns its
// completion value.
func (t *Tab) ExecuteJavaScript(ctx context.Context, code string) (any, error) {
	res, err := t.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           `(code) => (0, eval)(code)`,
		JSArgs:       []interface{}{code},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		logging.BrowserWarn("script failed in tab %s: %v", t.ID, err)
		return nil, fmt.Errorf("execute script: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	return res.Value.Val(), nil
}

// Navigate loads url in the tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.page.Context(ctx).Navigate(url)
}

// Close closes the tab.
func (t *Tab) Close() error {
	return t.page.Close()
}

// Inspect captures a snapshot of the first element matching selector,
// including the source location the dev build attached to it.
func (t *Tab) Inspect(ctx context.Context, selector string) (*types.SelectedElement, error) {
	res, err := t.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           inspectJS,
		JSArgs:       []interface{}{selector},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", selector, err)
	}
	if res == nil || res.Value.Nil() {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal element: %w", err)
	}
	return decodeElement(raw, selector)
}

func decodeElement(raw []byte, selector string) (*types.SelectedElement, error) {
	var el types.SelectedElement
	if err := json.Unmarshal(raw, &el); err != nil {
		return nil, fmt.Errorf("decode element: %w", err)
	}
	if el.TagName == "" {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	el.Selector = selector
	if el.SourceLocation != nil && len(el.SourceLocation.Sources) == 0 {
		el.SourceLocation = nil
	}
	return &el, nil
}

// inspectJS reads the React dev-build _debugSource from the element's fiber
// (walking up to the nearest owner that has one) and falls back to
// data-source-file / data-source-line attributes.
const inspectJS = `(selector) => {
	const el = document.querySelector(selector);
	if (!el) return null;

	const sources = [];
	const fiberKey = Object.keys(el).find(k => k.startsWith('__reactFiber'));
	if (fiberKey) {
		let f = el[fiberKey];
		const seen = new Set();
		while (f && !seen.has(f)) {
			seen.add(f);
			const s = f._debugSource;
			if (s && s.fileName) {
				sources.push({ file: s.fileName, line: s.lineNumber || 0 });
			}
			f = f._debugOwner || f.return;
			if (sources.length >= 5) break;
		}
	}
	let holder = el;
	while (holder && holder.nodeType === 1 && sources.length === 0) {
		const file = holder.getAttribute('data-source-file');
		if (file) {
			sources.push({ file, line: parseInt(holder.getAttribute('data-source-line') || '0', 10) });
		}
		holder = holder.parentElement;
	}

	const attributes = {};
	for (const a of el.attributes) attributes[a.name] = a.value;

	const cs = getComputedStyle(el);
	const computedStyle = {};
	for (const k of ['color', 'background-color', 'font-size', 'font-weight', 'margin', 'padding', 'display', 'width', 'height']) {
		computedStyle[k] = cs.getPropertyValue(k);
	}

	const r = el.getBoundingClientRect();
	const text = (el.textContent || '').trim();
	return {
		tagName: el.tagName.toLowerCase(),
		id: el.id || '',
		classNames: Array.from(el.classList),
		textContent: text.length > 500 ? text.slice(0, 500) : text,
		outerHTML: el.outerHTML.length > 5000 ? el.outerHTML.slice(0, 5000) : el.outerHTML,
		attributes,
		computedStyle,
		rect: { x: r.x, y: r.y, width: r.width, height: r.height },
		sourceLocation: { sources },
	};
}`
