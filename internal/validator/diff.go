// File: internal/validator/diff.go
package validator

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/xkilldash9x/chisel-cli/api/schemas"
)

const contextLines = 3

// lineOp is one line of a computed diff.
type lineOp struct {
	kind byte // ' ', '-', '+'
	text string
	// oldPos and newPos are 1-based positions; for '+' ops oldPos is the
	// count of old lines consumed so far, and symmetrically for '-'.
	oldPos int
	newPos int
}

// UnifiedDiff renders a canonical unified diff between two versions of a
// file. Identical inputs yield the empty string. Hunks carry three context
// lines and stable a/ b/ headers so the output is reproducible byte for
// byte.
func UnifiedDiff(path, oldContent, newContent string) string {
	if oldContent == newContent {
		return ""
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	ops := toLineOps(diffs)
	hunks := groupHunks(ops)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n", path)
	fmt.Fprintf(&sb, "+++ b/%s\n", path)
	for _, h := range hunks {
		writeHunk(&sb, ops[h[0]:h[1]])
	}
	return sb.String()
}

func toLineOps(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	oldPos, newPos := 0, 0
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldPos++
				newPos++
				ops = append(ops, lineOp{kind: ' ', text: line, oldPos: oldPos, newPos: newPos})
			case diffmatchpatch.DiffDelete:
				oldPos++
				ops = append(ops, lineOp{kind: '-', text: line, oldPos: oldPos, newPos: newPos})
			case diffmatchpatch.DiffInsert:
				newPos++
				ops = append(ops, lineOp{kind: '+', text: line, oldPos: oldPos, newPos: newPos})
			}
		}
	}
	return ops
}

// groupHunks returns [start,end) index pairs into ops, merging change runs
// whose gap is within twice the context width.
func groupHunks(ops []lineOp) [][2]int {
	var hunks [][2]int
	i := 0
	for i < len(ops) {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		lastChange := i
		j := i + 1
		for j < len(ops) && j-lastChange <= 2*contextLines {
			if ops[j].kind != ' ' {
				lastChange = j
			}
			j++
		}
		end := lastChange + contextLines + 1
		if end > len(ops) {
			end = len(ops)
		}
		hunks = append(hunks, [2]int{start, end})
		i = end
	}
	return hunks
}

func writeHunk(sb *strings.Builder, ops []lineOp) {
	oldStart, oldCount, newStart, newCount := 0, 0, 0, 0
	for _, op := range ops {
		switch op.kind {
		case ' ':
			if oldCount == 0 {
				oldStart = op.oldPos
			}
			if newCount == 0 {
				newStart = op.newPos
			}
			oldCount++
			newCount++
		case '-':
			if oldCount == 0 {
				oldStart = op.oldPos
			}
			oldCount++
		case '+':
			if newCount == 0 {
				newStart = op.newPos
			}
			newCount++
		}
	}
	// Pure insertions anchor after the preceding old line.
	if oldCount == 0 && len(ops) > 0 {
		oldStart = ops[0].oldPos
	}
	if newCount == 0 && len(ops) > 0 {
		newStart = ops[0].newPos
	}

	fmt.Fprintf(sb, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, op := range ops {
		sb.WriteByte(op.kind)
		sb.WriteString(op.text)
		sb.WriteByte('\n')
	}
}

// editOutsideWindow reports the first changed line of oldContent that falls
// outside the window's line range. Insertions anchor to the preceding
// original line, so an insert immediately before or after the window still
// counts as in scope.
func editOutsideWindow(oldContent, newContent string, win *schemas.ContextWindow) (int, bool) {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, op := range toLineOps(diffs) {
		switch op.kind {
		case '-':
			if op.oldPos < win.StartLine || op.oldPos > win.EndLine {
				return op.oldPos, true
			}
		case '+':
			if op.oldPos < win.StartLine-1 || op.oldPos > win.EndLine {
				return op.oldPos + 1, true
			}
		}
	}
	return 0, false
}

// ApplyUnifiedDiff applies a diff produced by UnifiedDiff to content and
// returns the patched text. Context and deletion lines must match the input
// exactly; any mismatch is an error.
func ApplyUnifiedDiff(content, diff string) (string, error) {
	if diff == "" {
		return content, nil
	}

	hadTrailingNewline := strings.HasSuffix(content, "\n")
	oldLines := strings.Split(content, "\n")
	if hadTrailingNewline {
		oldLines = oldLines[:len(oldLines)-1]
	}

	var out []string
	cursor := 0 // index into oldLines of the next unconsumed line

	lines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			i++
		case strings.HasPrefix(line, "@@ "):
			var oldStart, oldCount, newStart, newCount int
			if _, err := fmt.Sscanf(line, "@@ -%d,%d +%d,%d @@", &oldStart, &oldCount, &newStart, &newCount); err != nil {
				return "", fmt.Errorf("malformed hunk header %q: %w", line, err)
			}
			// Copy untouched lines up to the hunk. A zero-count hunk anchors
			// after oldStart lines.
			target := oldStart - 1
			if oldCount == 0 {
				target = oldStart
			}
			if target < cursor || target > len(oldLines) {
				return "", fmt.Errorf("hunk %q does not fit the input (cursor %d)", line, cursor)
			}
			out = append(out, oldLines[cursor:target]...)
			cursor = target
			i++
			// Consume hunk body.
			for i < len(lines) && !strings.HasPrefix(lines[i], "@@ ") {
				body := lines[i]
				if body == "" {
					// A blank context line is serialized as a single space,
					// but tolerate a fully empty line.
					body = " "
				}
				kind, text := body[0], body[1:]
				switch kind {
				case ' ':
					if cursor >= len(oldLines) || oldLines[cursor] != text {
						return "", fmt.Errorf("context mismatch at line %d: expected %q", cursor+1, text)
					}
					out = append(out, text)
					cursor++
				case '-':
					if cursor >= len(oldLines) || oldLines[cursor] != text {
						return "", fmt.Errorf("deletion mismatch at line %d: expected %q", cursor+1, text)
					}
					cursor++
				case '+':
					out = append(out, text)
				default:
					return "", fmt.Errorf("unexpected diff line %q", body)
				}
				i++
			}
		default:
			return "", fmt.Errorf("unexpected content in diff: %q", line)
		}
	}

	out = append(out, oldLines[cursor:]...)
	result := strings.Join(out, "\n")
	if hadTrailingNewline {
		result += "\n"
	}
	return result, nil
}
