package files

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// Memory is an in-memory types.FileService. The CLI uses it for dry runs.
type Memory struct {
	mu       sync.RWMutex
	files    map[string]string
	cwd      string
	writes   int
	writeErr error
}

// NewMemory creates a memory service seeded with files.
func NewMemory(cwd string, seed map[string]string) *Memory {
	m := &Memory{files: make(map[string]string, len(seed)), cwd: cwd}
	for k, v := range seed {
		m.files[k] = v
	}
	return m
}

// ReadFile implements types.FileService.
func (m *Memory) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.files[path]
	if !ok {
		return "", &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return content, nil
}

// WriteFile implements types.FileService.
func (m *Memory) WriteFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return fmt.Errorf("write %s: %w", path, m.writeErr)
	}
	m.files[path] = content
	m.writes++
	return nil
}

// Getwd implements types.FileService.
func (m *Memory) Getwd() (string, error) {
	if m.cwd == "" {
		return "", fmt.Errorf("no working directory")
	}
	return m.cwd, nil
}

// Content returns the current content of path.
func (m *Memory) Content(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.files[path]
	return c, ok
}

// Set replaces a file without counting a write.
func (m *Memory) Set(path, content string) {
	m.mu.Lock()
	m.files[path] = content
	m.mu.Unlock()
}

// Writes returns how many writes succeeded.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// FailWrites makes every later write fail with err; nil restores writes.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}
