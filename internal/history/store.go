// Package history writes approved patches to disk and keeps a per-file
// undo/redo stack, named checkpoints and the session's edited-file list.
package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"livepatch/internal/types"
)

var (
	// ErrNothingToUndo means the path has no applied entry left.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo means the path has no undone entry to re-apply.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrNoCheckpoint means no checkpoint has the requested name.
	ErrNoCheckpoint = errors.New("checkpoint not found")
)

// Entry is one recorded write to a file.
type Entry struct {
	ID          string            `json:"id"`
	Path        string            `json:"path"`
	Before      string            `json:"before"`
	After       string            `json:"after"`
	Description string            `json:"description,omitempty"`
	GeneratedBy types.GeneratedBy `json:"generatedBy,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Checkpoint is a named snapshot of every file with history.
type Checkpoint struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"createdAt"`
	Files     map[string]string `json:"files"`
}

// Store persists history stacks. Entries of a path form a stack with a
// cursor: entries below the cursor are applied, entries at or above it have
// been undone.
type Store interface {
	// Push drops any undone entries of e.Path, appends e and moves the
	// cursor past it.
	Push(ctx context.Context, e Entry) error
	// Stack returns the entries of path in order and the cursor.
	Stack(ctx context.Context, path string) ([]Entry, int, error)
	// SetCursor moves the cursor of path.
	SetCursor(ctx context.Context, path string, cursor int) error
	// Paths lists every path with history.
	Paths(ctx context.Context) ([]string, error)
	// SaveCheckpoint stores cp, replacing any checkpoint with the same name.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	// Checkpoint loads a checkpoint by name.
	Checkpoint(ctx context.Context, name string) (Checkpoint, error)
	Close() error
}

type stack struct {
	entries []Entry
	cursor  int
}

// MemoryStore keeps history for the life of the process.
type MemoryStore struct {
	mu          sync.RWMutex
	stacks      map[string]*stack
	checkpoints map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stacks:      make(map[string]*stack),
		checkpoints: make(map[string]Checkpoint),
	}
}

func (m *MemoryStore) Push(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stacks[e.Path]
	if !ok {
		s = &stack{}
		m.stacks[e.Path] = s
	}
	s.entries = append(s.entries[:s.cursor], e)
	s.cursor = len(s.entries)
	return nil
}

func (m *MemoryStore) Stack(_ context.Context, path string) ([]Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stacks[path]
	if !ok {
		return nil, 0, nil
	}
	return append([]Entry(nil), s.entries...), s.cursor, nil
}

func (m *MemoryStore) SetCursor(_ context.Context, path string, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stacks[path]
	if !ok || cursor < 0 || cursor > len(s.entries) {
		return errors.New("history cursor out of range")
	}
	s.cursor = cursor
	return nil
}

func (m *MemoryStore) Paths(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.stacks))
	for p := range m.stacks {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := make(map[string]string, len(cp.Files))
	for k, v := range cp.Files {
		files[k] = v
	}
	cp.Files = files
	m.checkpoints[cp.Name] = cp
	return nil
}

func (m *MemoryStore) Checkpoint(_ context.Context, name string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[name]
	if !ok {
		return Checkpoint{}, ErrNoCheckpoint
	}
	return cp, nil
}

func (m *MemoryStore) Close() error { return nil }
