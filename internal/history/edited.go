package history

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"livepatch/internal/diff"
)

// EditedFile summarizes the writes made to one file this session.
type EditedFile struct {
	Path        string    `json:"path"`
	DisplayName string    `json:"displayName"`
	Additions   int       `json:"additions"`
	Deletions   int       `json:"deletions"`
	UndoCode    string    `json:"undoCode,omitempty"`
	LastTouched time.Time `json:"lastTouched"`
}

// EditedFiles is the session's list of touched files.
type EditedFiles struct {
	mu    sync.RWMutex
	root  string
	files map[string]*EditedFile
	now   func() time.Time
}

// NewEditedFiles creates an empty list. Display names are made relative to
// projectRoot when possible.
func NewEditedFiles(projectRoot string) *EditedFiles {
	return &EditedFiles{
		root:  projectRoot,
		files: make(map[string]*EditedFile),
		now:   time.Now,
	}
}

// Record adds the line counts of before→after to path, creating the entry on
// first write. A non-empty undoCode replaces the stored one.
func (e *EditedFiles) Record(path, before, after, undoCode string) EditedFile {
	added, removed := diff.Stats(before, after)

	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.files[path]
	if !ok {
		f = &EditedFile{Path: path, DisplayName: e.displayName(path)}
		e.files[path] = f
	}
	f.Additions += added
	f.Deletions += removed
	if undoCode != "" {
		f.UndoCode = undoCode
	}
	f.LastTouched = e.now()
	return *f
}

// Dismiss drops path from the list. It reports whether it was present.
func (e *EditedFiles) Dismiss(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.files[path]
	delete(e.files, path)
	return ok
}

// Clear drops every entry.
func (e *EditedFiles) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = make(map[string]*EditedFile)
}

// Get returns the entry for path.
func (e *EditedFiles) Get(path string) (EditedFile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.files[path]
	if !ok {
		return EditedFile{}, false
	}
	return *f, true
}

// List returns every entry, most recently touched first.
func (e *EditedFiles) List() []EditedFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]EditedFile, 0, len(e.files))
	for _, f := range e.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastTouched.Equal(out[j].LastTouched) {
			return out[i].LastTouched.After(out[j].LastTouched)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func (e *EditedFiles) displayName(path string) string {
	if e.root != "" {
		if rel, err := filepath.Rel(e.root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}
