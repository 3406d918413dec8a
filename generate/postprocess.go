package generate

import (
	"strings"
)

// Placeholder pads a poem that came back short.
const Placeholder = "..."

// echoMarkers identify lines where the model repeated the instruction
// instead of writing verse. Matched case-insensitively.
var echoMarkers = []string{
	"theme:",
	"form:",
	"rules:",
	"begin:",
	"poem",
	"instruction",
	"return exactly",
}

// listMarkers is the cutset stripped from the start of each line.
const listMarkers = "-.0123456789) "

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\u001c', '\u001d', '\u001e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

func hasEchoMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range echoMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// CleanLines extracts up to n poem lines from raw model output and pads the
// result with Placeholder to exactly n entries. accepted is the number of
// lines taken from raw, before padding.
func CleanLines(raw string, n int) (lines []string, accepted int) {
	if n < 0 {
		n = 0
	}
	for _, line := range strings.FieldsFunc(raw, isLineBreak) {
		if len(lines) >= n {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || hasEchoMarker(line) {
			continue
		}
		line = strings.TrimLeft(line, listMarkers)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	accepted = len(lines)
	for len(lines) < n {
		lines = append(lines, Placeholder)
	}
	return lines, accepted
}

// Postprocess returns exactly n non-empty newline-joined lines from raw.
func Postprocess(raw string, n int) string {
	lines, _ := CleanLines(raw, n)
	return strings.Join(lines, "\n")
}
