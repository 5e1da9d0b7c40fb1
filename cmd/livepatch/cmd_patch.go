package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"livepatch/internal/diff"
	"livepatch/internal/patchgen"
	"livepatch/internal/types"
)

var applyPatch bool

// editFile is the JSON document read by `livepatch patch`.
type editFile struct {
	Element     *types.SelectedElement `json:"element"`
	CSS         types.CSSChanges       `json:"cssChanges,omitempty"`
	Text        *types.TextChange      `json:"textChange,omitempty"`
	Src         *types.SrcChange       `json:"srcChange,omitempty"`
	UserRequest string                 `json:"userRequest,omitempty"`
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <source-ref>",
	Short: "Map a source-map file reference to an absolute path",
	Long: `Resolves a file reference as reported by a dev server (webpack://,
/@fs/, file://, relative paths) against the project root and checks it
against the self-patch guard.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var patchCmd = &cobra.Command{
	Use:   "patch <edit.json>",
	Short: "Generate a source patch for a recorded element edit",
	Long: `Reads an element snapshot and its CSS, text or src change from a JSON
file, generates a source patch and prints it as a unified diff.

With --apply the patch is written and recorded in the undo history.`,
	Args: cobra.ExactArgs(1),
	RunE: runPatch,
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.resolver.Resolve(args[0], a.root)
	if err != nil {
		return err
	}
	if err := a.guard.Check(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runPatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read edit: %w", err)
	}
	var edit editFile
	if err := json.Unmarshal(data, &edit); err != nil {
		return fmt.Errorf("failed to parse edit: %w", err)
	}
	if edit.Element == nil {
		return fmt.Errorf("edit has no element")
	}

	ctx, cancel := context.WithTimeout(cmdContext(cmd), a.cfg.GetPatchTimeout())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	patch, err := a.generator.Generate(ctx, patchgen.Request{
		Element:     edit.Element,
		CSS:         edit.CSS,
		Text:        edit.Text,
		Src:         edit.Src,
		UserRequest: edit.UserRequest,
		Providers:   a.settings.ProviderConfig(),
		ProjectPath: a.root,
	})
	if err != nil {
		return err
	}
	logger.Info("Patch generated",
		zap.String("file", patch.FilePath),
		zap.String("generated_by", string(patch.GeneratedBy)),
		zap.Int64("duration_ms", patch.DurationMs))

	out := cmd.OutOrStdout()
	fmt.Fprint(out, diff.Unified(patch.FilePath, patch.OriginalContent, patch.PatchedContent))
	if !applyPatch {
		return nil
	}

	res, err := a.applicator.ApplyPatch(context.WithoutCancel(ctx), patch, "livepatch patch "+args[0])
	if err != nil {
		return err
	}
	if res.CanUndo {
		fmt.Fprintf(out, "Applied to %s (undo with `livepatch undo %s`)\n", res.FilePath, res.FilePath)
	} else {
		fmt.Fprintf(out, "Applied to %s (history unavailable)\n", res.FilePath)
	}
	return nil
}

// cmdContext returns the command's context, or Background when the command
// was invoked without Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
