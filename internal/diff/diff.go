// Package diff computes line diffs of source files with sergi/go-diff, for
// edited-file accounting and unified previews of generated patches.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

// Kind classifies one diff line.
type Kind int

const (
	Equal   Kind = iota // Unchanged line
	Added               // Line only in the new content
	Removed             // Line only in the old content
)

// Line is one line of a line diff. OldPos and NewPos are the 0-based
// cursors into each side before the line is consumed.
type Line struct {
	Kind   Kind
	Text   string
	OldPos int
	NewPos int
}

// Lines diffs old and new line by line.
func Lines(oldContent, newContent string) []Line {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out []Line
	oldPos, newPos := 0, 0
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			l := Line{Text: text, OldPos: oldPos, NewPos: newPos}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				l.Kind = Equal
				oldPos++
				newPos++
			case diffmatchpatch.DiffDelete:
				l.Kind = Removed
				oldPos++
			case diffmatchpatch.DiffInsert:
				l.Kind = Added
				newPos++
			}
			out = append(out, l)
		}
	}
	return out
}

// splitLines splits diff text into lines without their newlines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\n")
	}
	return parts
}

// Stats counts added and removed lines.
func Stats(oldContent, newContent string) (added, removed int) {
	if oldContent == newContent {
		return 0, 0
	}
	for _, l := range Lines(oldContent, newContent) {
		switch l.Kind {
		case Added:
			added++
		case Removed:
			removed++
		}
	}
	return added, removed
}

// Unified renders a unified diff of one file, or "" when nothing changed.
func Unified(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}
	lines := Lines(oldContent, newContent)
	hs := hunks(lines, DefaultContext)
	if len(hs) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, h := range hs {
		oldStart, oldCount, newStart, newCount := span(h)
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
		for _, l := range h {
			switch l.Kind {
			case Equal:
				b.WriteString(" ")
			case Added:
				b.WriteString("+")
			case Removed:
				b.WriteString("-")
			}
			b.WriteString(l.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// hunks groups changed lines with ctx lines of context. Changes closer than
// 2*ctx share a hunk.
func hunks(lines []Line, ctx int) [][]Line {
	var out [][]Line
	i := 0
	for i < len(lines) {
		for i < len(lines) && lines[i].Kind == Equal {
			i++
		}
		if i == len(lines) {
			break
		}
		start := i - ctx
		if start < 0 {
			start = 0
		}
		last := i
		for j := i; j < len(lines); j++ {
			if lines[j].Kind != Equal {
				last = j
			} else if j-last > 2*ctx {
				break
			}
		}
		end := last + ctx + 1
		if end > len(lines) {
			end = len(lines)
		}
		out = append(out, lines[start:end])
		i = end
	}
	return out
}

// span computes the @@ header numbers for a hunk.
func span(h []Line) (oldStart, oldCount, newStart, newCount int) {
	for _, l := range h {
		if l.Kind != Added {
			oldCount++
		}
		if l.Kind != Removed {
			newCount++
		}
	}
	oldStart, newStart = h[0].OldPos, h[0].NewPos
	if oldCount > 0 {
		oldStart++
	}
	if newCount > 0 {
		newStart++
	}
	return oldStart, oldCount, newStart, newCount
}
