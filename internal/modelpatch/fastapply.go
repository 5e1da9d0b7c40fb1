package modelpatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"livepatch/internal/llm"
	"livepatch/internal/logging"
)

// ErrNoModel means the relevant model is not configured.
var ErrNoModel = errors.New("no model configured")

const fastApplySystem = `You are a code-merge model. Apply the update to the code.
Output the complete updated code and nothing else: no explanation, no markdown fences.
Keep every line you do not need to change exactly as it is.`

// Result is a successful local rewrite of a window.
type Result struct {
	Code       string
	DurationMs int64
}

// FastApply runs the local model. Local inference serves one request at a
// time, so calls queue on a single slot.
type FastApply struct {
	factory llm.Factory
	slot    *semaphore.Weighted
}

// NewFastApply creates the local adapter. A nil factory uses the real clients.
func NewFastApply(factory llm.Factory) *FastApply {
	if factory == nil {
		factory = llm.DefaultFactory{}
	}
	return &FastApply{factory: factory, slot: semaphore.NewWeighted(1)}
}

// Apply asks the local model to rewrite window per description.
func (f *FastApply) Apply(ctx context.Context, cfg llm.ProviderConfig, window, description string) (Result, error) {
	if cfg.Local.IsZero() {
		return Result{}, fmt.Errorf("fast apply: %w", ErrNoModel)
	}
	if llm.RequiresKey(cfg.Local.Provider) && cfg.APIKey(cfg.Local.Provider) == "" {
		return Result{}, fmt.Errorf("fast apply: %w", llm.ErrNoAPIKey)
	}
	gen, err := f.factory.New(ctx, cfg.Local, cfg)
	if err != nil {
		return Result{}, fmt.Errorf("fast apply: %w", err)
	}

	if err := f.slot.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("fast apply: waiting for local model: %w", err)
	}
	defer f.slot.Release(1)

	start := time.Now()
	timer := logging.StartTimer(logging.CategoryModel, "fast apply "+cfg.Local.String())
	raw, err := gen.Generate(ctx, llm.Request{
		System:      fastApplySystem,
		Prompt:      fmt.Sprintf("<code>\n%s\n</code>\n<update>\n%s\n</update>", window, description),
		Temperature: 0,
	})
	timer.StopWithThreshold(10 * time.Second)
	if err != nil {
		return Result{}, fmt.Errorf("fast apply: %w", err)
	}

	code, err := validate(raw)
	if err != nil {
		logging.ModelWarn("fast apply rejected output: %v", err)
		return Result{}, fmt.Errorf("fast apply: %w", err)
	}
	return Result{Code: code, DurationMs: time.Since(start).Milliseconds()}, nil
}
