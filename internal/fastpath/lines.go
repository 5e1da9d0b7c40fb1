// Package fastpath holds the deterministic source rewrites tried before any
// model is consulted. Every matcher returns the full patched file and true,
// or "" and false when it cannot make exactly one unambiguous change.
package fastpath

import (
	"path/filepath"
	"sort"
	"strings"
)

// Dialect selects how attributes are written back.
type Dialect int

const (
	// DialectJSX writes style objects (style={{ color: 'red' }}).
	DialectJSX Dialect = iota
	// DialectMarkup writes style strings (style="color: red").
	DialectMarkup
)

func (d Dialect) String() string {
	if d == DialectMarkup {
		return "markup"
	}
	return "jsx"
}

var markupExts = map[string]bool{
	".html":   true,
	".htm":    true,
	".vue":    true,
	".svelte": true,
	".astro":  true,
}

// DialectFor picks the dialect from a file extension.
func DialectFor(path string) Dialect {
	if markupExts[strings.ToLower(filepath.Ext(path))] {
		return DialectMarkup
	}
	return DialectJSX
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex struct {
	starts []int
	size   int
}

func newLineIndex(content string) lineIndex {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return lineIndex{starts: starts, size: len(content)}
}

func (li lineIndex) count() int { return len(li.starts) }

// clamp keeps a reported line inside the file.
func (li lineIndex) clamp(line int) int {
	if line < 1 {
		return 1
	}
	if line > li.count() {
		return li.count()
	}
	return line
}

// start returns the offset of the first byte of line.
func (li lineIndex) start(line int) int {
	return li.starts[li.clamp(line)-1]
}

// end returns the offset just past line, excluding its newline.
func (li lineIndex) end(line int) int {
	line = li.clamp(line)
	if line == li.count() {
		return li.size
	}
	return li.starts[line] - 1
}

// lineOf returns the 1-based line holding offset.
func (li lineIndex) lineOf(offset int) int {
	return sort.Search(len(li.starts), func(i int) bool { return li.starts[i] > offset })
}

// nearestFirst lists the lines in [target-radius, target+radius], clamped,
// ordered by distance from target with earlier lines winning ties.
func (li lineIndex) nearestFirst(target, radius int) []int {
	target = li.clamp(target)
	lo, hi := li.clamp(target-radius), li.clamp(target+radius)
	out := make([]int, 0, hi-lo+1)
	out = append(out, target)
	for d := 1; target-d >= lo || target+d <= hi; d++ {
		if target-d >= lo {
			out = append(out, target-d)
		}
		if target+d <= hi {
			out = append(out, target+d)
		}
	}
	return out
}

func splice(content string, start, end int, repl string) string {
	return content[:start] + repl + content[end:]
}
