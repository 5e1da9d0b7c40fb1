// Package modelpatch adapts the local and cloud models to patch generation:
// it cuts a line window around the target, asks the model to rewrite it,
// validates that the answer is code and splices it back.
package modelpatch

import "strings"

// Window radii in lines either side of the target line.
const (
	LocalRadius = 30
	CloudRadius = 100
)

// Window is a 1-based, inclusive run of lines cut from a file.
type Window struct {
	Start int
	End   int
	Text  string

	lines []string
}

// Extract cuts the lines within radius of line. A line beyond the end of the
// file is clamped to the last line.
func Extract(content string, line, radius int) Window {
	lines := strings.Split(content, "\n")
	n := len(lines)
	if line < 1 {
		line = 1
	}
	if line > n {
		line = n
	}
	start, end := line-radius, line+radius
	if start < 1 {
		start = 1
	}
	if end > n {
		end = n
	}
	return Window{
		Start: start,
		End:   end,
		Text:  strings.Join(lines[start-1:end], "\n"),
		lines: lines,
	}
}

// Splice replaces the window's lines with replacement and returns the full
// file. The window's leading and trailing blank lines are kept as they were:
// models drop or add them freely, and a lost edge line would change code far
// from the target.
func (w Window) Splice(replacement string) string {
	out := make([]string, 0, len(w.lines))
	out = append(out, w.lines[:w.Start-1]...)
	out = append(out, matchEdges(strings.Split(w.Text, "\n"), strings.Split(replacement, "\n"))...)
	out = append(out, w.lines[w.End:]...)
	return strings.Join(out, "\n")
}

// matchEdges gives got the blank-line margins of want.
func matchEdges(want, got []string) []string {
	wl, wt := blankEdges(want)
	gl, gt := blankEdges(got)
	if wl == len(want) || gl == len(got) {
		return got
	}
	out := make([]string, 0, wl+len(got)-gl-gt+wt)
	out = append(out, want[:wl]...)
	out = append(out, got[gl:len(got)-gt]...)
	out = append(out, want[len(want)-wt:]...)
	return out
}

// blankEdges counts blank lines at the start and end of lines. An all-blank
// slice reports len(lines) leading and zero trailing.
func blankEdges(lines []string) (lead, trail int) {
	for lead < len(lines) && strings.TrimSpace(lines[lead]) == "" {
		lead++
	}
	if lead == len(lines) {
		return lead, 0
	}
	for trail < len(lines)-lead && strings.TrimSpace(lines[len(lines)-1-trail]) == "" {
		trail++
	}
	return lead, trail
}

// LineInWindow converts a file line to its 1-based position in the window.
func (w Window) LineInWindow(line int) int {
	if line < w.Start {
		return 1
	}
	if line > w.End {
		return w.End - w.Start + 1
	}
	return line - w.Start + 1
}
