// Package textsplit packs text into line-bounded chunks for summarization.
package textsplit

import (
	"strings"
	"unicode/utf8"
)

// Len returns the length of text in characters.
func Len(text string) int {
	return utf8.RuneCountInString(text)
}

// Split breaks text on line boundaries and greedily packs consecutive lines
// into chunks whose combined line length stays under sizeLimit. Newlines are
// not counted. A single line longer than sizeLimit becomes its own chunk.
//
//	Split("AAB\nDGF", 4)       // ["AAB", "DGF"]
//	Split("AAB\nDGF", 10)      // ["AAB\nDGF"]
//	Split("AAB\nDGF\nKBW", 7)  // ["AAB\nDGF", "KBW"]
func Split(text string, sizeLimit int) []string {
	lines := strings.Split(text, "\n")

	var b strings.Builder
	b.WriteString(lines[0])
	count := Len(lines[0])

	chunks := make([]string, 0, 1)
	for _, line := range lines[1:] {
		n := Len(line)
		if count+n < sizeLimit {
			b.WriteByte('\n')
			b.WriteString(line)
			count += n
			continue
		}
		chunks = append(chunks, b.String())
		b.Reset()
		b.WriteString(line)
		count = n
	}

	return append(chunks, b.String())
}
