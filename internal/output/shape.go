// Package output implements C8, output shaping: bounding a task's captured
// output to a line count and byte size, spilling overflow to a file when
// the caller is assembling a larger Markdown summary.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pi-parallel/parallel/internal/ids"
)

// Limits bounds one TaskResult's output per SPEC_FULL.md invariant 7.
type Limits struct {
	MaxLines int
	MaxBytes int
}

// Shape applies the line cap then the byte cap, in that order, returning
// the shaped text and whether either cap actually trimmed content. tempDir
// and name are accepted but unused: Shape never spills and always returns
// an empty spillPath. Spilling is done by the dispatch summary assemblers
// via Spill.
func Shape(text string, limits Limits, tempDir, name string) (shaped string, truncated bool, spillPath string) {
	shaped, lineTrunc := capLines(text, limits.MaxLines)
	shaped, byteTrunc := capBytes(shaped, limits.MaxBytes)
	return shaped, lineTrunc || byteTrunc, ""
}

func capLines(text string, maxLines int) (string, bool) {
	if maxLines <= 0 {
		return text, false
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text, false
	}
	kept := lines[len(lines)-maxLines:]
	return strings.Join(kept, "\n"), true
}

// capBytes bisects the string by half until it fits within maxBytes,
// matching SPEC_FULL.md §4.8's documented lossy-bisection behaviour, then
// re-aligns to a UTF-8 rune boundary so the cut never splits a code point.
func capBytes(text string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text, false
	}
	truncated := false
	for len(text) > maxBytes {
		truncated = true
		text = text[len(text)/2:]
	}
	for len(text) > 0 && !utf8.RuneStart(text[0]) {
		text = text[1:]
	}
	return text, truncated
}

// SpillThreshold is the character count past which a Markdown summary
// assembler should spill the full output to disk rather than inline it.
const SpillThreshold = 2000

// Spill writes the full text to a file named "<prefix>-<safeName>-<epoch>.md"
// under dir, returning its path. If that file already exists (a same-name
// spill in the same millisecond), a short ID is added before ".md" so the
// earlier spill is not overwritten. On failure the caller should fall back
// to in-line truncation only, per SPEC_FULL.md §4.8.
func Spill(dir, prefix, safeName string, epochMillis int64, text string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s-%d.md", prefix, safeName, epochMillis))
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(dir, fmt.Sprintf("%s-%s-%d-%s.md", prefix, safeName, epochMillis, ids.Short()))
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
