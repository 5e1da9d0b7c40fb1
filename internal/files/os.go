// Package files provides the file I/O collaborator used by the pipeline: a
// local filesystem service with atomic writes, an in-memory service for dry
// runs, and a watcher that notices external edits to files under review.
package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"livepatch/internal/logging"
)

// OS is a types.FileService on the local filesystem.
type OS struct{}

// NewOS creates the local filesystem service.
func NewOS() *OS {
	return &OS{}
}

// ReadFile reads a whole file as UTF-8 text.
func (*OS) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile replaces path with content through a temp file and rename so a
// reader never sees a partial file. The existing mode is kept.
func (*OS) WriteFile(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".livepatch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	logging.FilesDebug("wrote %s (%d bytes)", path, len(content))
	return nil
}

// Getwd returns the process working directory.
func (*OS) Getwd() (string, error) {
	return os.Getwd()
}
