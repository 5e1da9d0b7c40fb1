// Package patchgen turns a live element edit into a source patch. Strategies
// are tried cheapest first (fast path, local model, cloud model) and the
// first one that produces a real change wins.
package patchgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"livepatch/internal/fastpath"
	"livepatch/internal/llm"
	"livepatch/internal/logging"
	"livepatch/internal/modelpatch"
	"livepatch/internal/resolver"
	"livepatch/internal/types"
)

var (
	// ErrNoSourceLocation means the element carries no source-map metadata.
	ErrNoSourceLocation = errors.New("element has no source location")

	// ErrUnresolvable means the source reference could not be mapped to a file.
	ErrUnresolvable = errors.New("source location could not be resolved")

	// ErrSelfPatch means the file belongs to the editor itself.
	ErrSelfPatch = resolver.ErrSelfPatch

	// ErrExhausted means every strategy failed.
	ErrExhausted = errors.New("could not generate a source patch")
)

// Request is one patch generation call.
type Request struct {
	Element     *types.SelectedElement
	CSS         types.CSSChanges
	Providers   llm.ProviderConfig
	ProjectPath string
	UserRequest string
	Text        *types.TextChange
	Src         *types.SrcChange
}

func (r Request) delta() types.Delta {
	return types.Delta{CSS: r.CSS, Text: r.Text, Src: r.Src}
}

// LocalApplier rewrites a small window with the local model.
type LocalApplier interface {
	Apply(ctx context.Context, cfg llm.ProviderConfig, window, description string) (modelpatch.Result, error)
}

// CloudApplier rewrites a large window with the cloud model.
type CloudApplier interface {
	Apply(ctx context.Context, cfg llm.ProviderConfig, req modelpatch.CloudRequest) (string, error)
}

// Windows are the line radii used by each strategy.
type Windows struct {
	Src   int
	CSS   int
	Local int
	Cloud int
}

// DefaultWindows returns the standard radii.
func DefaultWindows() Windows {
	return Windows{
		Src:   fastpath.SrcRadius,
		CSS:   fastpath.CSSRadius,
		Local: modelpatch.LocalRadius,
		Cloud: modelpatch.CloudRadius,
	}
}

// Orchestrator sequences the strategies.
type Orchestrator struct {
	files    types.FileService
	resolver *resolver.Resolver
	guard    *resolver.Guard
	local    LocalApplier
	cloud    CloudApplier
	windows  Windows

	// Superseded generations for the same file share one read.
	reads singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocal sets the local model adapter. nil disables the strategy.
func WithLocal(l LocalApplier) Option {
	return func(o *Orchestrator) { o.local = l }
}

// WithCloud sets the cloud model adapter. nil disables the strategy.
func WithCloud(c CloudApplier) Option {
	return func(o *Orchestrator) { o.cloud = c }
}

// WithWindows overrides the strategy radii; zero fields keep the default.
func WithWindows(w Windows) Option {
	return func(o *Orchestrator) {
		def := DefaultWindows()
		if w.Src <= 0 {
			w.Src = def.Src
		}
		if w.CSS <= 0 {
			w.CSS = def.CSS
		}
		if w.Local <= 0 {
			w.Local = def.Local
		}
		if w.Cloud <= 0 {
			w.Cloud = def.Cloud
		}
		o.windows = w
	}
}

// New creates an orchestrator with the real model adapters.
func New(files types.FileService, res *resolver.Resolver, guard *resolver.Guard, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		files:    files,
		resolver: res,
		guard:    guard,
		local:    modelpatch.NewFastApply(nil),
		cloud:    modelpatch.NewCloud(nil),
		windows:  DefaultWindows(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate produces a patch for the request. It never returns a patch whose
// original and patched content are equal, and it never panics: failures in
// collaborators come back as errors.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (patch *types.SourcePatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPatchGen).Error("patch generation panicked: %v", r)
			patch, err = nil, fmt.Errorf("patch generation failed: %v", r)
		}
	}()

	start := time.Now()
	if req.Element == nil {
		return nil, ErrNoSourceLocation
	}
	ref, ok := req.Element.SourceLocation.Primary()
	if !ok || ref.File == "" {
		return nil, ErrNoSourceLocation
	}

	path, err := o.resolver.Resolve(ref.File, req.ProjectPath)
	if err != nil {
		logging.PatchGenWarn("resolve %q: %v", ref.File, err)
		return nil, fmt.Errorf("%w: %w", ErrUnresolvable, err)
	}
	if err := o.guard.Check(path); err != nil {
		return nil, err
	}

	content, err := o.read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnresolvable, path, err)
	}

	line := ref.Line
	if line < 1 {
		line = 1
	}
	mk := func(patched string, by types.GeneratedBy) *types.SourcePatch {
		p := &types.SourcePatch{
			FilePath:        path,
			OriginalContent: content,
			PatchedContent:  patched,
			LineNumber:      line,
			GeneratedBy:     by,
			DurationMs:      time.Since(start).Milliseconds(),
		}
		logging.PatchGen("%s patch for %s:%d in %dms", by, path, line, p.DurationMs)
		return p
	}

	if out, ok := o.fastPath(content, line, path, req); ok {
		return mk(out, types.GeneratedByFastPath), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.local != nil {
		w := modelpatch.Extract(content, line, o.windows.Local)
		desc := modelpatch.Describe(req.Element, req.CSS, req.Text, req.Src, req.UserRequest, fastpath.DialectFor(path))
		res, err := o.local.Apply(ctx, req.Providers, w.Text, desc)
		switch {
		case err != nil:
			logging.PatchGenDebug("fast apply missed: %v", err)
		default:
			if out := w.Splice(res.Code); out != content {
				return mk(out, types.GeneratedByFastApply), nil
			}
			logging.PatchGenDebug("fast apply returned the window unchanged")
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.cloud != nil {
		w := modelpatch.Extract(content, line, o.windows.Cloud)
		code, err := o.cloud.Apply(ctx, req.Providers, modelpatch.CloudRequest{
			Window:      w,
			Element:     req.Element,
			CSS:         req.CSS,
			Text:        req.Text,
			Src:         req.Src,
			UserRequest: req.UserRequest,
			SourceFile:  path,
			TargetLine:  line,
		})
		switch {
		case err != nil:
			logging.PatchGenDebug("cloud missed: %v", err)
		default:
			if out := w.Splice(code); out != content {
				return mk(out, types.GeneratedByGemini), nil
			}
			logging.PatchGenDebug("cloud returned the window unchanged")
		}
	}

	logging.PatchGenWarn("all strategies exhausted for %s:%d", path, line)
	return nil, ErrExhausted
}

// fastPath dispatches on the delta shape. Mixed deltas skip straight to the
// models.
func (o *Orchestrator) fastPath(content string, line int, path string, req Request) (string, bool) {
	d := req.delta()
	var (
		out string
		ok  bool
	)
	switch {
	case d.HasSrc() && !d.HasText() && !d.HasCSS():
		out, ok = fastpath.SrcWithin(content, line, o.windows.Src, *req.Src)
	case d.HasText() && !d.HasSrc() && !d.HasCSS():
		out, ok = fastpath.Text(content, *req.Text, fastpath.DialectFor(path))
	case d.HasCSS() && !d.HasSrc() && !d.HasText():
		out, ok = fastpath.CSSWithin(content, line, o.windows.CSS, req.Element, req.CSS, fastpath.DialectFor(path))
	}
	return out, ok && out != content
}

func (o *Orchestrator) read(ctx context.Context, path string) (string, error) {
	v, err, _ := o.reads.Do(path, func() (interface{}, error) {
		return o.files.ReadFile(ctx, path)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
