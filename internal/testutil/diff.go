package testutil

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// AssertSameBytes fails the test with a line diff when got differs from want.
func AssertSameBytes(t testing.TB, label string, want, got []byte) {
	t.Helper()
	if bytes.Equal(want, got) {
		return
	}
	t.Fatalf("%s differs:\n%s", label, unifiedDiff(string(want), string(got), label))
}

// unifiedDiff renders a line diff of two documents with three lines of
// leading context per hunk.
func unifiedDiff(want, got, label string) string {
	var buf bytes.Buffer

	wantLines := strings.Split(want, "\n")
	gotLines := strings.Split(got, "\n")

	fmt.Fprintf(&buf, "--- %s (want)\n", label)
	fmt.Fprintf(&buf, "+++ %s (got)\n", label)

	maxLines := len(wantLines)
	if len(gotLines) > maxLines {
		maxLines = len(gotLines)
	}

	inHunk := false
	hunkStart := 0
	var hunkLines []string

	flushHunk := func() {
		if len(hunkLines) > 0 {
			fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", hunkStart+1, len(hunkLines), hunkStart+1, len(hunkLines))
			for _, line := range hunkLines {
				buf.WriteString(line)
				buf.WriteString("\n")
			}
			hunkLines = nil
		}
	}

	for i := 0; i < maxLines; i++ {
		var wantLine, gotLine string
		if i < len(wantLines) {
			wantLine = wantLines[i]
		}
		if i < len(gotLines) {
			gotLine = gotLines[i]
		}

		if wantLine == gotLine {
			if inHunk {
				hunkLines = append(hunkLines, " "+wantLine)
				if len(hunkLines) > 6 {
					flushHunk()
					inHunk = false
				}
			}
		} else {
			if !inHunk {
				inHunk = true
				hunkStart = i
				// leading context
				for j := max(0, i-3); j < i; j++ {
					if j < len(wantLines) {
						hunkLines = append(hunkLines, " "+wantLines[j])
					}
				}
			}

			if i < len(wantLines) && wantLine != "" {
				hunkLines = append(hunkLines, "-"+wantLine)
			}
			if i < len(gotLines) && gotLine != "" {
				hunkLines = append(hunkLines, "+"+gotLine)
			}
		}
	}

	flushHunk()

	return buf.String()
}
