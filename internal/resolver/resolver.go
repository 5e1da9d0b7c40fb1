// Package resolver maps source-map file references to absolute filesystem
// paths and refuses paths inside the tool's own installation.
package resolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"livepatch/internal/logging"
)

var (
	// ErrNoProjectPath means a relative reference could not be anchored.
	ErrNoProjectPath = errors.New("cannot resolve relative source path: no project path and no working directory")

	// ErrEmptyRef means the reference was blank after normalization.
	ErrEmptyRef = errors.New("empty source file reference")
)

// DefaultAbsolutePrefixes are the prefixes treated as already-absolute
// filesystem paths.
var DefaultAbsolutePrefixes = []string{
	"/Users/", "/home/", "/var/", "/tmp/", "/private/", "/opt/", "/root/", "/srv/", "/mnt/",
}

// Bundler prefixes are stripped before file:// and /@fs/.
var bundlerPrefixes = []string{"webpack-internal://", "webpack://"}

var (
	urlHostRe  = regexp.MustCompile(`^https?://[^/]*`)
	driveRe    = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	slashDrvRe = regexp.MustCompile(`^/[A-Za-z]:[\\/]`)
	bundleNSRe = regexp.MustCompile(`^[^/.][^/]*/\./`)
)

// CwdFunc returns the collaborator's working directory.
type CwdFunc func() (string, error)

// Resolver normalizes file references.
type Resolver struct {
	absPrefixes []string
	cwd         CwdFunc
}

// New builds a resolver. extraPrefixes extend DefaultAbsolutePrefixes; cwd
// may be nil, in which case relative references without a project path fail.
func New(cwd CwdFunc, extraPrefixes ...string) *Resolver {
	prefixes := append([]string(nil), DefaultAbsolutePrefixes...)
	for _, p := range extraPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			if !strings.HasSuffix(p, "/") {
				p += "/"
			}
			prefixes = append(prefixes, p)
		}
	}
	return &Resolver{absPrefixes: prefixes, cwd: cwd}
}

// Resolve maps fileRef to an absolute path. Already-absolute paths are
// returned cleaned and otherwise unchanged.
func (r *Resolver) Resolve(fileRef, projectPath string) (string, error) {
	ref := stripQuery(strings.TrimSpace(fileRef))
	if ref == "" {
		return "", ErrEmptyRef
	}
	if r.isAbsolute(ref) {
		return clean(ref), nil
	}

	ref = urlHostRe.ReplaceAllString(ref, "")
	for _, p := range bundlerPrefixes {
		if strings.HasPrefix(ref, p) {
			ref = strings.TrimPrefix(ref, p)
			// webpack://app-name/./src/App.tsx carries a namespace segment.
			ref = bundleNSRe.ReplaceAllString(ref, "")
			break
		}
	}
	ref = strings.TrimPrefix(ref, "file://")
	if strings.HasPrefix(ref, "/@fs/") {
		ref = strings.TrimPrefix(ref, "/@fs")
	}
	if slashDrvRe.MatchString(ref) {
		ref = ref[1:]
	}
	if r.isAbsolute(ref) {
		return clean(ref), nil
	}

	ref = strings.TrimLeft(ref, "/")
	for strings.HasPrefix(ref, "./") {
		ref = ref[2:]
	}
	if ref == "" {
		return "", ErrEmptyRef
	}

	if projectPath != "" {
		return filepath.Join(projectPath, filepath.FromSlash(ref)), nil
	}

	if r.cwd != nil {
		if wd, err := r.cwd(); err == nil && wd != "" {
			logging.ResolverDebug("no project path for %q, falling back to cwd %s", fileRef, wd)
			return filepath.Join(wd, filepath.FromSlash(ref)), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoProjectPath, fileRef)
}

func (r *Resolver) isAbsolute(p string) bool {
	if driveRe.MatchString(p) {
		return true
	}
	for _, prefix := range r.absPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}

func clean(p string) string {
	if driveRe.MatchString(p) {
		return p
	}
	return filepath.Clean(p)
}
