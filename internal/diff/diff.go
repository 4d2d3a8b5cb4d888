// Package diff computes and applies line-oriented edit scripts between two
// versions of a file's content.
//
// The diff is a heuristic: it walks both contents line by line with a bounded
// lookahead and classifies each divergence as an insertion, deletion, or
// replacement of whole lines. It is not a minimal-edit-distance diff; two
// different input pairs can produce different-looking but equally valid
// scripts. For identical inputs the output is deterministic.
//
// Edit positions are byte offsets into the pre-change content. Applying a
// script tracks a running offset correction so later ops still address the
// right location after earlier ops have shifted the string.
package diff

import "strings"

// lookahead is how many lines ahead we search for a resynchronization point
// before falling back to a single-line replacement.
const lookahead = 10

// OpKind classifies an edit operation.
type OpKind string

const (
	// OpInsert inserts Text at Position.
	OpInsert OpKind = "insert"
	// OpDelete removes Length bytes starting at Position.
	OpDelete OpKind = "delete"
	// OpReplace removes Length bytes at Position and inserts Text in their place.
	OpReplace OpKind = "replace"
)

// Op is a single edit operation. Position and Length are byte offsets into
// the pre-change content; line boundaries ('\n') are included in Length and
// Text.
type Op struct {
	Kind     OpKind `json:"kind"`
	Position int    `json:"position"`
	Length   int    `json:"length"`
	Text     string `json:"text,omitempty"`
}

// ComputeEditScript returns the edit script that transforms oldContent into
// newContent. The script satisfies
//
//	ApplyEditScript(oldContent, ComputeEditScript(oldContent, newContent)) == newContent
//
// for all inputs.
func ComputeEditScript(oldContent, newContent string) []Op {
	if oldContent == newContent {
		return nil
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	var script []Op
	i, j := 0, 0 // cursors into oldLines / newLines
	oldPos := 0  // byte offset of oldLines[i] in oldContent

	for i < len(oldLines) && j < len(newLines) {
		if oldLines[i] == newLines[j] {
			oldPos += len(oldLines[i])
			i++
			j++
			continue
		}

		// The current old line reappears a few lines ahead in the new
		// content: everything before it is an insertion.
		if k := findLine(newLines, j+1, lookahead, oldLines[i]); k >= 0 {
			script = append(script, Op{
				Kind:     OpInsert,
				Position: oldPos,
				Text:     joinLines(newLines[j:k]),
			})
			j = k
			continue
		}

		// The current new line reappears ahead in the old content: the
		// intervening old lines were deleted.
		if k := findLine(oldLines, i+1, lookahead, newLines[j]); k >= 0 {
			length := lineSpan(oldLines[i:k])
			script = append(script, Op{
				Kind:     OpDelete,
				Position: oldPos,
				Length:   length,
			})
			oldPos += length
			i = k
			continue
		}

		// No resynchronization point found: replace this line.
		script = append(script, Op{
			Kind:     OpReplace,
			Position: oldPos,
			Length:   len(oldLines[i]),
			Text:     newLines[j],
		})
		oldPos += len(oldLines[i])
		i++
		j++
	}

	// Old content ran out: the rest of the new content is appended.
	if j < len(newLines) {
		if text := joinLines(newLines[j:]); text != "" {
			script = append(script, Op{
				Kind:     OpInsert,
				Position: oldPos,
				Text:     text,
			})
		}
	}

	// New content ran out: the rest of the old content is removed.
	if i < len(oldLines) {
		if length := len(oldContent) - oldPos; length > 0 {
			script = append(script, Op{
				Kind:     OpDelete,
				Position: oldPos,
				Length:   length,
			})
		}
	}

	return script
}

// ApplyEditScript replays script against content and returns the result.
// Ops carry positions relative to the pre-change content, so a running
// correction accounts for the size shift introduced by earlier ops.
//
// The function is total: malformed scripts (overlapping ranges, out-of-bounds
// positions) produce best-effort output after clamping rather than panicking.
// Callers are responsible for only applying scripts produced by
// ComputeEditScript against the matching original content.
func ApplyEditScript(content string, script []Op) string {
	offset := 0
	for _, op := range script {
		pos := clamp(op.Position+offset, 0, len(content))
		switch op.Kind {
		case OpInsert:
			content = content[:pos] + op.Text + content[pos:]
			offset += len(op.Text)
		case OpDelete:
			end := clamp(pos+op.Length, pos, len(content))
			content = content[:pos] + content[end:]
			offset -= end - pos
		case OpReplace:
			end := clamp(pos+op.Length, pos, len(content))
			content = content[:pos] + op.Text + content[end:]
			offset += len(op.Text) - (end - pos)
		}
	}
	return content
}

// splitLines splits content into lines with the trailing '\n' kept on each
// line. Content not ending in '\n' yields a final element without one; empty
// content yields a single empty element, which acts as the natural anchor for
// trailing-newline alignment.
func splitLines(content string) []string {
	return strings.SplitAfter(content, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "")
}

func lineSpan(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	return n
}

// findLine returns the index of the first occurrence of line in lines within
// [from, from+window), or -1 when absent.
func findLine(lines []string, from, window int, line string) int {
	end := from + window
	if end > len(lines) {
		end = len(lines)
	}
	for k := from; k < end; k++ {
		if lines[k] == line {
			return k
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
