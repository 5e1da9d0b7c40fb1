package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"livepatch/internal/logging"
	"livepatch/internal/types"
)

var (
	// ErrNoChange means the patch would leave the file as it is.
	ErrNoChange = errors.New("patch does not change the file")

	// ErrSourceChanged means the file on disk no longer matches the content
	// the patch or history entry was computed against.
	ErrSourceChanged = errors.New("source changed on disk")
)

// ApplyResult reports a completed write.
type ApplyResult struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath"`
	CanUndo  bool   `json:"canUndo"`
}

// ApplyOption adjusts a single ApplyPatch call.
type ApplyOption func(*applyOptions)

type applyOptions struct {
	undoCode string
}

// WithUndoCode stores the DOM revert script on the edited-file entry.
func WithUndoCode(code string) ApplyOption {
	return func(o *applyOptions) { o.undoCode = code }
}

// Applicator is the only component that writes source files.
type Applicator struct {
	files  types.FileService
	store  Store
	edited *EditedFiles
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewApplicator wires the applicator to its collaborators. A nil store keeps
// history in memory; a nil edited list disables edited-file tracking.
func NewApplicator(files types.FileService, store Store, edited *EditedFiles) *Applicator {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Applicator{
		files:  files,
		store:  store,
		edited: edited,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Edited returns the edited-file list, which may be nil.
func (a *Applicator) Edited() *EditedFiles {
	return a.edited
}

func (a *Applicator) lock(path string) func() {
	a.mu.Lock()
	l, ok := a.locks[path]
	if !ok {
		l = &sync.Mutex{}
		a.locks[path] = l
	}
	a.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ApplyPatch writes patch.PatchedContent to patch.FilePath and records the
// write for undo. History failures are logged and reported via CanUndo.
func (a *Applicator) ApplyPatch(ctx context.Context, patch *types.SourcePatch, description string, opts ...ApplyOption) (ApplyResult, error) {
	if patch == nil || patch.FilePath == "" {
		return ApplyResult{}, errors.New("no patch to apply")
	}
	if patch.PatchedContent == patch.OriginalContent {
		return ApplyResult{FilePath: patch.FilePath}, ErrNoChange
	}
	var o applyOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock := a.lock(patch.FilePath)
	defer unlock()

	timer := logging.StartTimer(logging.CategoryHistory, "ApplyPatch")
	defer timer.Stop()

	current, err := a.files.ReadFile(ctx, patch.FilePath)
	if err != nil {
		return ApplyResult{FilePath: patch.FilePath}, fmt.Errorf("read %s: %w", patch.FilePath, err)
	}
	if current != patch.OriginalContent {
		logging.HistoryWarn("refusing write to %s: file changed since the patch was generated", patch.FilePath)
		return ApplyResult{FilePath: patch.FilePath}, ErrSourceChanged
	}
	if err := a.files.WriteFile(ctx, patch.FilePath, patch.PatchedContent); err != nil {
		logging.HistoryError("write %s failed: %v", patch.FilePath, err)
		return ApplyResult{FilePath: patch.FilePath}, fmt.Errorf("write %s: %w", patch.FilePath, err)
	}

	res := ApplyResult{Success: true, FilePath: patch.FilePath, CanUndo: true}
	entry := Entry{
		ID:          uuid.NewString(),
		Path:        patch.FilePath,
		Before:      patch.OriginalContent,
		After:       patch.PatchedContent,
		Description: description,
		GeneratedBy: patch.GeneratedBy,
		CreatedAt:   a.now(),
	}
	if err := a.store.Push(ctx, entry); err != nil {
		logging.HistoryWarn("history not recorded for %s: %v", patch.FilePath, err)
		res.CanUndo = false
	}
	if a.edited != nil {
		a.edited.Record(patch.FilePath, patch.OriginalContent, patch.PatchedContent, o.undoCode)
	}
	logging.History("applied %s patch to %s (line %d)", patch.GeneratedBy, patch.FilePath, patch.LineNumber)
	return res, nil
}

// Undo restores the content before the latest applied entry of path.
func (a *Applicator) Undo(ctx context.Context, path string) (Entry, error) {
	unlock := a.lock(path)
	defer unlock()

	entries, cursor, err := a.store.Stack(ctx, path)
	if err != nil {
		return Entry{}, fmt.Errorf("load history: %w", err)
	}
	if cursor == 0 {
		return Entry{}, ErrNothingToUndo
	}
	e := entries[cursor-1]
	if err := a.swap(ctx, path, e.After, e.Before); err != nil {
		return Entry{}, err
	}
	if err := a.store.SetCursor(ctx, path, cursor-1); err != nil {
		return Entry{}, fmt.Errorf("update history: %w", err)
	}
	if a.edited != nil {
		a.edited.Dismiss(path)
	}
	logging.History("undid %q on %s", e.Description, path)
	return e, nil
}

// Redo re-applies the most recently undone entry of path.
func (a *Applicator) Redo(ctx context.Context, path string) (Entry, error) {
	unlock := a.lock(path)
	defer unlock()

	entries, cursor, err := a.store.Stack(ctx, path)
	if err != nil {
		return Entry{}, fmt.Errorf("load history: %w", err)
	}
	if cursor >= len(entries) {
		return Entry{}, ErrNothingToRedo
	}
	e := entries[cursor]
	if err := a.swap(ctx, path, e.Before, e.After); err != nil {
		return Entry{}, err
	}
	if err := a.store.SetCursor(ctx, path, cursor+1); err != nil {
		return Entry{}, fmt.Errorf("update history: %w", err)
	}
	if a.edited != nil {
		a.edited.Record(path, e.Before, e.After, "")
	}
	logging.History("redid %q on %s", e.Description, path)
	return e, nil
}

// swap writes to only when the file still holds from.
func (a *Applicator) swap(ctx context.Context, path, from, to string) error {
	current, err := a.files.ReadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if current != from {
		return ErrSourceChanged
	}
	if err := a.files.WriteFile(ctx, path, to); err != nil {
		logging.HistoryError("write %s failed: %v", path, err)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// CreateCheckpoint snapshots the current content of every file with history.
func (a *Applicator) CreateCheckpoint(ctx context.Context, name string) (Checkpoint, error) {
	if name == "" {
		return Checkpoint{}, errors.New("checkpoint name required")
	}
	paths, err := a.store.Paths(ctx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("list history: %w", err)
	}
	cp := Checkpoint{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: a.now(),
		Files:     make(map[string]string, len(paths)),
	}
	for _, p := range paths {
		content, err := a.files.ReadFile(ctx, p)
		if err != nil {
			logging.HistoryWarn("checkpoint %s: skipping %s: %v", name, p, err)
			continue
		}
		cp.Files[p] = content
	}
	if err := a.store.SaveCheckpoint(ctx, cp); err != nil {
		return Checkpoint{}, fmt.Errorf("save checkpoint: %w", err)
	}
	logging.History("checkpoint %q saved (%d files)", name, len(cp.Files))
	return cp, nil
}

// RestoreCheckpoint writes back every file of the checkpoint that differs
// from disk. Each restore is recorded so it can be undone. It returns the
// restored paths.
func (a *Applicator) RestoreCheckpoint(ctx context.Context, name string) ([]string, error) {
	cp, err := a.store.Checkpoint(ctx, name)
	if err != nil {
		return nil, err
	}

	var restored []string
	for path, content := range cp.Files {
		changed, err := a.restoreFile(ctx, path, content, name)
		if err != nil {
			return restored, err
		}
		if changed {
			restored = append(restored, path)
		}
	}
	logging.History("checkpoint %q restored (%d files)", name, len(restored))
	return restored, nil
}

func (a *Applicator) restoreFile(ctx context.Context, path, content, name string) (bool, error) {
	unlock := a.lock(path)
	defer unlock()

	current, err := a.files.ReadFile(ctx, path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if current == content {
		return false, nil
	}
	if err := a.files.WriteFile(ctx, path, content); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	err = a.store.Push(ctx, Entry{
		ID:          uuid.NewString(),
		Path:        path,
		Before:      current,
		After:       content,
		Description: "restore checkpoint " + name,
		CreatedAt:   a.now(),
	})
	if err != nil {
		logging.HistoryWarn("history not recorded for %s: %v", path, err)
	}
	if a.edited != nil {
		a.edited.Record(path, current, content, "")
	}
	return true, nil
}
