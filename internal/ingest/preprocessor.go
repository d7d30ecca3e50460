package ingest

import "strings"

// Normalize converts all line endings to "\n" and trims surrounding whitespace.
// Applied to document content before chunking; chunk windows are trimmed again
// individually after extraction.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	replaced := strings.ReplaceAll(text, "\r\n", "\n")
	replaced = strings.ReplaceAll(replaced, "\r", "\n")
	return strings.TrimSpace(replaced)
}
