package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"livepatch/internal/diff"
	"livepatch/internal/history"
)

var restoreCheckpoint bool

var undoCmd = &cobra.Command{
	Use:   "undo <file>",
	Short: "Revert the latest applied patch of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runUndo,
}

var redoCmd = &cobra.Command{
	Use:   "redo <file>",
	Short: "Re-apply the most recently undone patch of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRedo,
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <name>",
	Short: "Snapshot every patched file under a name",
	Long: `Saves the current content of every file with patch history. With
--restore the named snapshot is written back; the restore itself can be
undone file by file.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckpoint,
}

var editedCmd = &cobra.Command{
	Use:   "edited",
	Short: "List files changed by applied patches",
	Args:  cobra.NoArgs,
	RunE:  runEdited,
}

func runUndo(cmd *cobra.Command, args []string) error {
	return stepHistory(cmd, args[0], "Undid", (*history.Applicator).Undo)
}

func runRedo(cmd *cobra.Command, args []string) error {
	return stepHistory(cmd, args[0], "Redid", (*history.Applicator).Redo)
}

type historyStep func(*history.Applicator, context.Context, string) (history.Entry, error)

func stepHistory(cmd *cobra.Command, file, verb string, step historyStep) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	path := a.absPath(file)
	e, err := step(a.applicator, cmdContext(cmd), path)
	if errors.Is(err, history.ErrSourceChanged) {
		return fmt.Errorf("%s was edited outside livepatch; refusing to overwrite", path)
	}
	if err != nil {
		return err
	}
	desc := e.Description
	if desc == "" {
		desc = "patch"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %q on %s\n", verb, desc, relTo(a.root, path))
	return nil
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	ctx := cmdContext(cmd)
	if !restoreCheckpoint {
		cp, err := a.applicator.CreateCheckpoint(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Checkpoint %q saved (%d files)\n", cp.Name, len(cp.Files))
		return nil
	}

	restored, err := a.applicator.RestoreCheckpoint(ctx, args[0])
	if err != nil {
		return err
	}
	sort.Strings(restored)
	fmt.Fprintf(out, "Checkpoint %q restored (%d files)\n", args[0], len(restored))
	for _, p := range restored {
		fmt.Fprintf(out, "  %s\n", relTo(a.root, p))
	}
	return nil
}

// runEdited reports, for each file with applied history, the line counts
// between its content before the first patch and its content now.
func runEdited(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmdContext(cmd)
	paths, err := a.store.Paths(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	shown := 0
	for _, p := range paths {
		entries, cursor, err := a.store.Stack(ctx, p)
		if err != nil {
			return err
		}
		if cursor == 0 || len(entries) == 0 {
			continue
		}
		current, err := a.files.ReadFile(ctx, p)
		if err != nil {
			logger.Sugar().Warnf("skipping %s: %v", p, err)
			continue
		}
		added, removed := diff.Stats(entries[0].Before, current)
		if added == 0 && removed == 0 {
			continue
		}
		fmt.Fprintf(out, "%s\t+%d -%d\n", relTo(a.root, p), added, removed)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No edited files")
	}
	return nil
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !startsWithParent(rel) {
		return rel
	}
	return path
}

func startsWithParent(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
