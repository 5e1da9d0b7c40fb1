package resolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"livepatch/internal/logging"
)

// ErrSelfPatch is returned for paths inside the tool's own installation.
var ErrSelfPatch = errors.New("refusing to patch the editor's own source")

// allowedSubdir is the one subfolder of an install directory that may be
// patched (the project website lives there).
const allowedSubdir = "website"

// Guard rejects paths inside install directories.
type Guard struct {
	markers []string
}

// NewGuard builds a guard from directory names ("ai-cluso") or absolute
// install directories ("/Applications/Editor.app").
func NewGuard(dirs ...string) *Guard {
	g := &Guard{}
	for _, d := range dirs {
		d = filepath.ToSlash(strings.TrimSpace(d))
		d = strings.Trim(d, "/")
		if d == "" {
			continue
		}
		g.markers = append(g.markers, "/"+d+"/")
	}
	return g
}

// Check returns ErrSelfPatch when path lies inside a guarded directory and
// not under its website/ subfolder.
func (g *Guard) Check(path string) error {
	if g == nil {
		return nil
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for _, m := range g.markers {
		idx := strings.Index(p, m)
		if idx < 0 {
			continue
		}
		if strings.HasPrefix(p[idx+len(m):], allowedSubdir+"/") {
			continue
		}
		logging.ResolverWarn("self-patch guard rejected %s (marker %s)", path, m)
		return fmt.Errorf("%w: %s", ErrSelfPatch, path)
	}
	return nil
}
